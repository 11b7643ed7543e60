package snowflake

import "testing"

func TestNewGenerator(t *testing.T) {
	_, err := NewGenerator(0)
	if err != nil {
		t.Error(err)
	}
}

func TestNewGeneratorWorkerOverflow(t *testing.T) {
	_, err := NewGenerator(1024)
	if err == nil {
		t.Error("Expected worker ID overflow error, but there wasn't")
	}
}

func TestGenerate(t *testing.T) {
	g, err := NewGenerator(5)
	if err != nil {
		t.Fatal(err)
	}

	id, err := g.Generate()
	if err != nil {
		t.Error(err)
	}

	extracted := Extract(id)
	if extracted.WorkerID != 5 {
		t.Errorf("Extracted worker ID %d, want 5", extracted.WorkerID)
	}
}

func TestGenerateIncrementOverflow(t *testing.T) {
	g, err := NewGenerator(0)
	if err != nil {
		t.Fatal(err)
	}

	for range 100000 {
		_, err := g.Generate()
		if err != nil {
			return
		}
	}
	t.Error("Expected increment overflow, but there wasn't")
}

func TestGenerateMonotonic(t *testing.T) {
	g, err := NewGenerator(0)
	if err != nil {
		t.Fatal(err)
	}

	var last int64
	for range 100 {
		id, err := g.Generate()
		if err != nil {
			t.Fatal(err)
		}
		if id <= last {
			t.Fatalf("ID %d is not greater than previous %d", id, last)
		}
		last = id
	}
}
