package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-edc/Connector-sub001/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"NegotiationID", id.NewNegotiationID, "neg_"},
		{"TransferID", id.NewTransferID, "tp_"},
		{"PolicyMonitorID", id.NewPolicyMonitorID, "pm_"},
		{"InstanceID", id.NewInstanceID, "inst_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			assert.True(t, strings.HasPrefix(got, tt.prefix), "expected prefix %q, got %q", tt.prefix, got)
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	original := id.NewNegotiationID()

	parsed, err := id.ParseWithPrefix(original.String(), id.PrefixNegotiation)
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no separator", "neg0192"},
		{"bad prefix", "NEG_01h2xcejqtf2nbrexx3vqjhp41"},
		{"bad suffix", "neg_not-a-typeid"},
		{"uuid suffix", "neg_01928a6e-7b8c-7d0e-8f00-000000000000"},
		{"no prefix", "01h2xcejqtf2nbrexx3vqjhp41"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := id.Parse(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestParseCanonical(t *testing.T) {
	parsed, err := id.Parse("neg_01h2xcejqtf2nbrexx3vqjhp41")
	require.NoError(t, err)
	assert.Equal(t, id.PrefixNegotiation, parsed.Prefix())
	assert.Equal(t, "neg_01h2xcejqtf2nbrexx3vqjhp41", parsed.String())
}

func TestNewPanicsOnInvalidPrefix(t *testing.T) {
	assert.Panics(t, func() { id.New("") })
	assert.Panics(t, func() { id.New("Bad") })
}

func TestParseWithPrefix_Mismatch(t *testing.T) {
	_, err := id.ParseWithPrefix(id.NewTransferID().String(), id.PrefixNegotiation)
	assert.Error(t, err)
}

func TestIDsAreSortable(t *testing.T) {
	a := id.NewTransferID()
	b := id.NewTransferID()
	assert.Less(t, a.String(), b.String())
}

func TestJSONAndScan(t *testing.T) {
	original := id.NewPolicyMonitorID()

	data, err := json.Marshal(struct {
		ID id.ID `json:"id"`
	}{original})
	require.NoError(t, err)

	var decoded struct {
		ID id.ID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded.ID)

	var scanned id.ID
	require.NoError(t, scanned.Scan(original.String()))
	assert.Equal(t, original, scanned)

	require.NoError(t, scanned.Scan(nil))
	assert.True(t, scanned.IsNil())

	v, err := id.Nil.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestCompare(t *testing.T) {
	a := id.NewTransferID()
	b := id.NewTransferID()

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, -1, id.Nil.Compare(a))
}
