package jsonx

import (
	"strings"
	"testing"
)

func TestMarshalLeavesHTMLUnescaped(t *testing.T) {
	data, err := Marshal(map[string]string{"body": `<a href="x">&</a>`})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `>&</a>`) {
		t.Errorf("expected unescaped HTML, got %s", data)
	}
}

func TestUnmarshalDecodesIntegersAsInt64(t *testing.T) {
	var v map[string]interface{}
	if err := Unmarshal([]byte(`{"n": 9007199254740993}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	n, ok := v["n"].(int64)
	if !ok {
		t.Fatalf("expected int64, got %T", v["n"])
	}
	if n != 9007199254740993 {
		t.Errorf("integer lost precision: %d", n)
	}
}

func TestDecoderRoundTrip(t *testing.T) {
	var v struct {
		Name string `json:"name"`
	}
	if err := NewDecoder(strings.NewReader(`{"name":"ada"}`)).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Name != "ada" {
		t.Errorf("got %q", v.Name)
	}
}
