package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout) })
	return &buf
}

func TestSanitizePayloadMasksNestedPins(t *testing.T) {
	in := map[string]any{
		"account_number": 2000000001,
		"pin":            "1234",
		"request": map[string]any{
			"New-Pin":     "9999",
			"confirm_pin": "9999",
			"amount":      "100",
		},
	}

	out := SanitizePayload(in).(map[string]any)
	if out["pin"] != masked {
		t.Fatalf("pin not masked: %v", out["pin"])
	}
	req := out["request"].(map[string]any)
	if req["New-Pin"] != masked || req["confirm_pin"] != masked {
		t.Fatalf("nested pins not masked: %v", req)
	}
	if req["amount"] != "100" {
		t.Fatalf("amount should pass through: %v", req["amount"])
	}
}

func TestErrorWritesJSONWithErrorField(t *testing.T) {
	buf := captureOutput(t)

	Error("withdraw failed", errors.New("boom"), Fields{"pin": "1234", "account_number": int64(2000000001)})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not json: %s", buf.String())
	}
	if line["level"] != "ERROR" || line["msg"] != "withdraw failed" || line["error"] != "boom" {
		t.Fatalf("unexpected record %v", line)
	}
	if line["account_number"] != float64(2000000001) {
		t.Fatalf("account_number=%v", line["account_number"])
	}
	if strings.Contains(buf.String(), "1234") {
		t.Fatalf("pin leaked: %s", buf.String())
	}
}

// TestInfoMasksNestedFields map 类型的字段值里的 PIN 也要打码
func TestInfoMasksNestedFields(t *testing.T) {
	buf := captureOutput(t)

	Info("request", Fields{
		"token": "abc-def",
		"body":  map[string]any{"new_pin": "4321", "amount": "50"},
	})

	out := buf.String()
	if strings.Contains(out, "4321") || strings.Contains(out, "abc-def") {
		t.Fatalf("sensitive value leaked: %s", out)
	}
	if !strings.Contains(out, `"amount":"50"`) || !strings.Contains(out, `"level":"INFO"`) {
		t.Fatalf("unexpected output: %s", out)
	}
}
