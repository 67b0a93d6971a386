package durablemap

import (
	"errors"
	"reflect"
	"testing"
)

func TestGobEncoding_RoundTrip(t *testing.T) {
	type Data struct {
		Name    string
		Count   int
		Tags    []string
		Weights map[string]float64
	}

	enc := GobEncoding[Data]{}
	before := Data{
		Name:    "A",
		Count:   3,
		Tags:    []string{"x", "y"},
		Weights: map[string]float64{"x": 0.5},
	}

	data, err := enc.Encode(before)
	if err != nil {
		t.Fatal(err)
	}
	after, err := enc.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Errorf("unexpected: %+v", after)
	}
}

func TestGobEncoding_DecodeGarbage(t *testing.T) {
	enc := GobEncoding[string]{}

	_, err := enc.Decode([]byte("not a gob stream"))
	if !errors.Is(err, ErrEncoding) {
		t.Errorf("unexpected: %v", err)
	}
}

func TestJSONEncoding_RoundTrip(t *testing.T) {
	type Data struct {
		Name  string   `json:"name"`
		Count int      `json:"count"`
		Tags  []string `json:"tags"`
	}

	enc := JSONEncoding[Data]{}
	before := Data{Name: "A", Count: 3, Tags: []string{"x", "y"}}

	data, err := enc.Encode(before)
	if err != nil {
		t.Fatal(err)
	}
	after, err := enc.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Errorf("unexpected: %+v", after)
	}
}

func TestJSONEncoding_UnsupportedValue(t *testing.T) {
	enc := JSONEncoding[chan int]{}

	_, err := enc.Encode(make(chan int))
	if !errors.Is(err, ErrEncoding) {
		t.Errorf("unexpected: %v", err)
	}
}

func TestJSONEncoding_DecodeGarbage(t *testing.T) {
	enc := JSONEncoding[int]{}

	_, err := enc.Decode([]byte("{"))
	if !errors.Is(err, ErrEncoding) {
		t.Errorf("unexpected: %v", err)
	}
}

func TestRawEncoding_Copies(t *testing.T) {
	enc := RawEncoding{}

	original := []byte("payload")
	data, err := enc.Encode(original)
	if err != nil {
		t.Fatal(err)
	}
	original[0] = 'X'
	if string(data) != "payload" {
		t.Errorf("unexpected: %q", data)
	}

	decoded, err := enc.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	data[0] = 'Y'
	if string(decoded) != "payload" {
		t.Errorf("unexpected: %q", decoded)
	}
}

func TestStringEncoding_RoundTrip(t *testing.T) {
	enc := StringEncoding{}

	data, err := enc.Encode("こんにちは")
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := enc.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded != "こんにちは" {
		t.Errorf("unexpected: %v", decoded)
	}
}
