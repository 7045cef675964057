package pricing

import (
	"context"
	"errors"
	"testing"
)

func TestCatalog_InstanceMonthly(t *testing.T) {
	c := NewCatalog()
	got, err := c.EstimateMonthly(context.Background(), "aws_instance",
		map[string]interface{}{"instance_type": "t3.micro"}, "us-east-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Round2(0.0104 * 730)
	if got != want {
		t.Errorf("monthly = %v, want %v", got, want)
	}
}

func TestCatalog_VolumeByTypeAndSize(t *testing.T) {
	c := NewCatalog()

	gp2, err := c.EstimateMonthly(context.Background(), "aws_ebs_volume",
		map[string]interface{}{"type": "gp2", "size": float64(100)}, "us-east-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gp3, err := c.EstimateMonthly(context.Background(), "aws_ebs_volume",
		map[string]interface{}{"type": "gp3", "size": float64(100)}, "us-east-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gp2 != 10.0 || gp3 != 8.0 {
		t.Errorf("gp2=%v gp3=%v, want 10 and 8", gp2, gp3)
	}
	if gp3 >= gp2 {
		t.Error("gp3 must be cheaper than gp2 at equal size")
	}
}

func TestCatalog_VolumeDefaultSize(t *testing.T) {
	c := NewCatalog()
	got, err := c.EstimateMonthly(context.Background(), "aws_ebs_volume", nil, "us-east-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != Round2(8*0.10) {
		t.Errorf("default-size volume = %v, want %v", got, Round2(8*0.10))
	}
}

func TestCatalog_UnsupportedResource(t *testing.T) {
	c := NewCatalog()
	_, err := c.EstimateMonthly(context.Background(), "aws_quantum_computer", nil, "us-east-1")
	if !errors.Is(err, ErrUnsupportedResource) {
		t.Fatalf("expected ErrUnsupportedResource, got %v", err)
	}
}

func TestCatalog_UnknownInstanceTypeIsUnestimable(t *testing.T) {
	c := NewCatalog()
	_, err := c.EstimateMonthly(context.Background(), "aws_instance",
		map[string]interface{}{"instance_type": "u-24tb1.metal"}, "us-east-1")
	if !errors.Is(err, ErrUnsupportedResource) {
		t.Fatalf("expected ErrUnsupportedResource, got %v", err)
	}
}

func TestRound2(t *testing.T) {
	if got := Round2(1.234); got != 1.23 {
		t.Errorf("Round2(1.234) = %v, want 1.23", got)
	}
	if got := Round2(1.236); got != 1.24 {
		t.Errorf("Round2(1.236) = %v, want 1.24", got)
	}
	if got := Round2(10); got != 10 {
		t.Errorf("Round2(10) = %v, want 10", got)
	}
}
