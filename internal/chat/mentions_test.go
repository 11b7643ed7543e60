package chat

import (
	"slices"
	"testing"
)

func TestParseMentions(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected Mentions
	}{
		{
			name:     "no mentions",
			text:     "hello world",
			expected: Mentions{},
		},
		{
			name:     "single user mention",
			text:     "hi <@123>",
			expected: Mentions{UserIDs: []int64{123}},
		},
		{
			name:     "duplicate user mention collapses",
			text:     "<@123> and again <@123>",
			expected: Mentions{UserIDs: []int64{123}},
		},
		{
			name:     "role mention",
			text:     "ping <@&456>",
			expected: Mentions{RoleIDs: []int64{456}},
		},
		{
			name:     "everyone token",
			text:     "attention @everyone please",
			expected: Mentions{Everyone: true},
		},
		{
			name: "all forms mixed",
			text: "<@1> <@2> <@&9> @everyone",
			expected: Mentions{
				UserIDs:  []int64{1, 2},
				RoleIDs:  []int64{9},
				Everyone: true,
			},
		},
		{
			name:     "role token is not a user token",
			text:     "<@&456>",
			expected: Mentions{RoleIDs: []int64{456}},
		},
		{
			name:     "malformed tokens ignored",
			text:     "<@> <@abc> <@&>",
			expected: Mentions{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseMentions(tc.text)

			if !slices.Equal(got.UserIDs, tc.expected.UserIDs) {
				t.Errorf("UserIDs = %v, want %v", got.UserIDs, tc.expected.UserIDs)
			}
			if !slices.Equal(got.RoleIDs, tc.expected.RoleIDs) {
				t.Errorf("RoleIDs = %v, want %v", got.RoleIDs, tc.expected.RoleIDs)
			}
			if got.Everyone != tc.expected.Everyone {
				t.Errorf("Everyone = %t, want %t", got.Everyone, tc.expected.Everyone)
			}
		})
	}
}

func TestPingsRolesOrEveryone(t *testing.T) {
	if (Mentions{UserIDs: []int64{1}}).PingsRolesOrEveryone() {
		t.Error("Plain user mentions must not require pingRolesAndEveryone")
	}
	if !(Mentions{RoleIDs: []int64{1}}).PingsRolesOrEveryone() {
		t.Error("Role mentions require pingRolesAndEveryone")
	}
	if !(Mentions{Everyone: true}).PingsRolesOrEveryone() {
		t.Error("@everyone requires pingRolesAndEveryone")
	}
}
