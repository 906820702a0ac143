package job

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringCodecValidates(t *testing.T) {
	c := StringCodec{}
	fields, err := c.Encode(InvocationData{Type: "Mailer", Method: "Send", ParameterTypes: `["System.String"]`, Arguments: `["\"a@b.c\""]`})
	require.NoError(t, err)
	assert.Equal(t, "Send", fields[FieldMethod])

	_, err = c.Encode(InvocationData{Method: "Send"})
	assert.Error(t, err)

	inv, err := c.Decode(map[string]string{FieldType: "Mailer", FieldMethod: "Send", FieldArguments: "{broken"})
	assert.Error(t, err)
	assert.Equal(t, "Mailer", inv.Type, "partial data is still returned")
}

func TestLoadErrorMatching(t *testing.T) {
	cause := errors.New("missing Type")
	var err error = &LoadError{JobID: "42", Err: cause}
	assert.ErrorIs(t, err, ErrLoad)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "job 42")
}

func TestTimeFormat(t *testing.T) {
	ts := time.UnixMilli(1_700_000_000_123)
	got, ok := ParseTime(FormatTime(ts))
	require.True(t, ok)
	assert.True(t, ts.Equal(got))

	_, ok = ParseTime("")
	assert.False(t, ok)
	_, ok = ParseTime("yesterday")
	assert.False(t, ok)
}

func TestReservedFields(t *testing.T) {
	assert.True(t, IsReserved(FieldFetched))
	assert.False(t, IsReserved("CurrentCulture"))
	assert.NotEqual(t, NewID(), NewID())
}

func TestStateHistoryEntry(t *testing.T) {
	sd := StateData{Name: "Failed", Reason: "timeout", Data: map[string]string{"Attempt": "2"}, CreatedAt: time.UnixMilli(1_700_000_000_000)}
	raw, err := MarshalState(sd)
	require.NoError(t, err)
	got, err := UnmarshalState(raw)
	require.NoError(t, err)
	assert.Equal(t, "Failed", got.Name)
	assert.Equal(t, "2", got.Data["Attempt"])
	assert.True(t, sd.CreatedAt.Equal(got.CreatedAt))

	_, err = UnmarshalState("not json")
	assert.Error(t, err)
}
