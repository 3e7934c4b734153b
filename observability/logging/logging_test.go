package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestSetupRemapsKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter(&buf, "paymentd", "test")
	logger.Info("payment settled", "paymentId", "abc")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if line["message"] != "payment settled" {
		t.Fatalf("message key missing: %v", line)
	}
	if line["severity"] != "INFO" {
		t.Fatalf("severity key missing: %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp key missing: %v", line)
	}
	if line["service"] != "paymentd" || line["env"] != "test" {
		t.Fatalf("base attrs missing: %v", line)
	}
}

func TestMaskField(t *testing.T) {
	if attr := MaskField("token", "eyJhbGciOi"); attr.Value.String() != RedactedValue {
		t.Fatalf("token value leaked: %s", attr.Value.String())
	}
	if attr := MaskField("paymentId", "abc"); attr.Value.String() != "abc" {
		t.Fatalf("allowlisted key masked: %s", attr.Value.String())
	}
	if attr := MaskField("secret", ""); attr.Value.String() != "" {
		t.Fatalf("empty value rewritten: %s", attr.Value.String())
	}
}
