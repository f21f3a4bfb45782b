package similarity

import (
	"errors"
	"math"
	"testing"
)

func TestCosineIdenticalVectors(t *testing.T) {
	v := []float64{0.3, -1.2, 4.5, 0.01}

	got, err := Cosine(v, v)
	if err != nil {
		t.Fatalf("Cosine failed: %v", err)
	}
	if math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("identical vectors: expected 1.0, got %v", got)
	}
}

func TestCosineOrthogonalVectors(t *testing.T) {
	a := []float64{1, 0}
	b := []float64{0, 1}

	got, err := Cosine(a, b)
	if err != nil {
		t.Fatalf("Cosine failed: %v", err)
	}
	if math.Abs(got) > 1e-9 {
		t.Fatalf("orthogonal vectors: expected 0, got %v", got)
	}
}

func TestCosineOppositeVectors(t *testing.T) {
	a := []float64{1, 2, 3}
	b := []float64{-1, -2, -3}

	got, err := Cosine(a, b)
	if err != nil {
		t.Fatalf("Cosine failed: %v", err)
	}
	if math.Abs(got+1.0) > 1e-9 {
		t.Fatalf("opposite vectors: expected -1.0, got %v", got)
	}
}

func TestCosineCommutative(t *testing.T) {
	a := []float64{0.5, 0.1, -0.7}
	b := []float64{1.1, -0.2, 0.4}

	ab, err := Cosine(a, b)
	if err != nil {
		t.Fatalf("Cosine(a,b) failed: %v", err)
	}
	ba, err := Cosine(b, a)
	if err != nil {
		t.Fatalf("Cosine(b,a) failed: %v", err)
	}
	if ab != ba {
		t.Fatalf("expected commutative result, got %v vs %v", ab, ba)
	}
}

func TestCosineZeroMagnitude(t *testing.T) {
	zero := []float64{0, 0, 0}
	v := []float64{1, 2, 3}

	got, err := Cosine(zero, v)
	if err != nil {
		t.Fatalf("Cosine failed: %v", err)
	}
	if got != 0 {
		t.Fatalf("zero-magnitude vector: expected 0, got %v", got)
	}
}

func TestCosineDimensionMismatch(t *testing.T) {
	a := []float64{1, 2}
	b := []float64{1, 2, 3}

	_, err := Cosine(a, b)
	if err == nil {
		t.Fatalf("expected dimension mismatch error")
	}

	var dim *DimensionMismatchError
	if !errors.As(err, &dim) {
		t.Fatalf("expected DimensionMismatchError, got %T", err)
	}
	if dim.Want != 2 || dim.Got != 3 {
		t.Fatalf("unexpected dimensions in error: %+v", dim)
	}
}
