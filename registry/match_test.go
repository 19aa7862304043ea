package registry

import "testing"

func TestURLOverlap_Score(t *testing.T) {
	s := URLOverlap{}
	cases := []struct {
		name   string
		window []string
		snap   []string
		want   float64
	}{
		{"identical", []string{"a", "b"}, []string{"a", "b"}, 1.0},
		{"disjoint", []string{"a", "b"}, []string{"c", "d"}, 0.0},
		{"half of smaller", []string{"a", "x"}, []string{"a", "b", "c", "d"}, 0.5},
		{"subset", []string{"a", "b"}, []string{"a", "b", "c", "d"}, 1.0},
		{"empty window", nil, []string{"a"}, 0.0},
		{"empty snapshot", []string{"a"}, nil, 0.0},
		{"duplicates collapse", []string{"a", "a", "b"}, []string{"a", "b"}, 1.0},
		{"blank urls ignored", []string{"", "a"}, []string{"a"}, 1.0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := s.Score(c.window, c.snap); got != c.want {
				t.Fatalf("Score(%v, %v): got %v, want %v", c.window, c.snap, got, c.want)
			}
		})
	}
}

func TestURLOverlap_SeventyPercent(t *testing.T) {
	s := URLOverlap{}
	window := []string{"1", "2", "3", "4", "5", "6", "7", "x", "y", "z"}
	snap := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"}
	got := s.Score(window, snap)
	if got != 0.7 {
		t.Fatalf("Score: got %v, want exactly 0.7", got)
	}
	if got > DefaultThreshold {
		t.Fatal("0.7 must not exceed the strict threshold")
	}
}
