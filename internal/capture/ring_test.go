package capture_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/promptflux-stt/internal/capture"
)

func seq(from, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(from + i)
	}
	return out
}

func TestRing_MinimumCapacity(t *testing.T) {
	t.Parallel()
	for _, capacity := range []int{-3, 0, 1} {
		if got := capture.NewRing(capacity).Cap(); got != 1 {
			t.Errorf("NewRing(%d).Cap() = %d, want 1", capacity, got)
		}
	}
}

func TestRing_EmptyReads(t *testing.T) {
	t.Parallel()
	r := capture.NewRing(8)
	got := r.Latest(4)
	if got == nil || len(got) != 0 {
		t.Fatalf("Latest on empty ring = %#v, want empty non-nil slice", got)
	}
	if got := r.Latest(-1); got == nil || len(got) != 0 {
		t.Fatalf("Latest(-1) = %#v, want empty non-nil slice", got)
	}
}

func TestRing_Ordering(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		cap    int
		blocks [][]float32
		read   int
		want   []float32
	}{
		{
			name:   "partial fill",
			cap:    8,
			blocks: [][]float32{seq(0, 3)},
			read:   10,
			want:   seq(0, 3),
		},
		{
			name:   "wraps across end",
			cap:    5,
			blocks: [][]float32{seq(0, 3), seq(3, 4)},
			read:   5,
			want:   seq(2, 5),
		},
		{
			name:   "tail of wrapped data",
			cap:    5,
			blocks: [][]float32{seq(0, 4), seq(4, 3)},
			read:   2,
			want:   seq(5, 2),
		},
		{
			name:   "oversized block keeps trailing capacity",
			cap:    4,
			blocks: [][]float32{seq(0, 2), seq(100, 10)},
			read:   4,
			want:   seq(106, 4),
		},
		{
			name:   "write after oversized block",
			cap:    4,
			blocks: [][]float32{seq(0, 9), seq(50, 2)},
			read:   4,
			want:   []float32{7, 8, 50, 51},
		},
		{
			name:   "exact capacity block",
			cap:    3,
			blocks: [][]float32{seq(0, 1), seq(10, 3)},
			read:   3,
			want:   seq(10, 3),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := capture.NewRing(tt.cap)
			for _, b := range tt.blocks {
				r.Write(b)
			}
			got := r.Latest(tt.read)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Latest(%d) = %v, want %v", tt.read, got, tt.want)
			}
			if r.Len() > r.Cap() {
				t.Errorf("Len() = %d exceeds Cap() = %d", r.Len(), r.Cap())
			}
		})
	}
}

// Writing n total samples in arbitrary block sizes must leave exactly the
// last min(n, cap) samples in arrival order.
func TestRing_LastSamplesProperty(t *testing.T) {
	t.Parallel()
	sizes := []int{1, 2, 3, 5, 7, 11, 13}
	for capacity := 1; capacity <= 12; capacity++ {
		r := capture.NewRing(capacity)
		next := 0
		for i := 0; i < 40; i++ {
			n := sizes[(i*capacity)%len(sizes)]
			r.Write(seq(next, n))
			next += n

			want := seq(next-min(next, capacity), min(next, capacity))
			if got := r.Latest(capacity); !slices.Equal(got, want) {
				t.Fatalf("cap %d after %d samples: Latest = %v, want %v", capacity, next, got, want)
			}
		}
	}
}

func TestRing_LatestReturnsCopy(t *testing.T) {
	t.Parallel()
	r := capture.NewRing(4)
	r.Write(seq(0, 4))
	got := r.Latest(4)
	got[0] = 99
	if again := r.Latest(4); again[0] != 0 {
		t.Fatalf("mutating Latest result changed ring: %v", again)
	}
}
