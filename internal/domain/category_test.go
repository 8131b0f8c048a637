package domain

import "testing"

func TestParseCategory(t *testing.T) {
	cases := []struct {
		in   string
		want Category
		ok   bool
	}{
		{"Interested", CategoryInterested, true},
		{"  not interested  ", CategoryNotInterested, true},
		{"MEETING   BOOKED", CategoryMeetingBooked, true},
		{"gibberish", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := ParseCategory(c.in)
		if ok != c.ok {
			t.Fatalf("ParseCategory(%q) ok = %v, want %v", c.in, ok, c.ok)
		}
		if ok && got != c.want {
			t.Fatalf("ParseCategory(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestAccountKeyValid(t *testing.T) {
	if (AccountKey{}).Valid() {
		t.Fatal("zero AccountKey should not be valid")
	}
	if !NewAccountKey("u1", "a@b.com").Valid() {
		t.Fatal("fully populated AccountKey should be valid")
	}
}
