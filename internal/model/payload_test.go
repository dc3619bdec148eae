package model

import "testing"

func TestPayloadValueScanRoundTrip(t *testing.T) {
	p := Payload{"a": "1", "b": float64(2)}

	raw, err := p.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var out Payload
	if err := out.Scan(raw); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if out["a"] != "1" || out["b"] != float64(2) {
		t.Fatalf("round trip mismatch: got %#v", out)
	}
}

func TestPayloadValueNil(t *testing.T) {
	var p Payload
	raw, err := p.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if string(raw.([]byte)) != "{}" {
		t.Fatalf("expected empty object for nil payload, got %q", raw)
	}
}

func TestPayloadScanNil(t *testing.T) {
	var p Payload
	if err := p.Scan(nil); err != nil {
		t.Fatalf("Scan(nil): %v", err)
	}
	if p == nil || len(p) != 0 {
		t.Fatalf("expected empty non-nil payload, got %#v", p)
	}
}

func TestPayloadScanUnsupportedType(t *testing.T) {
	var p Payload
	if err := p.Scan(42); err == nil {
		t.Fatalf("expected error scanning unsupported type")
	}
}

func TestPayloadMergePreservesOriginal(t *testing.T) {
	original := Payload{"input": "x"}
	merged := original.Merge("result", "y")

	if _, ok := original["result"]; ok {
		t.Fatalf("Merge must not mutate the receiver")
	}
	if merged["input"] != "x" || merged["result"] != "y" {
		t.Fatalf("merged payload missing expected keys: %#v", merged)
	}
}

func TestPayloadAsDatatypesJSON(t *testing.T) {
	p := Payload{"k": "v"}
	j, err := p.AsDatatypesJSON()
	if err != nil {
		t.Fatalf("AsDatatypesJSON: %v", err)
	}
	if len(j) == 0 {
		t.Fatalf("expected non-empty JSON bytes")
	}
}
