package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    Metadata
		wantErr string
	}{
		{name: "empty", pairs: nil, want: Metadata{}},
		{name: "pairs", pairs: []string{"device=sensor-1", " room =lab"}, want: Metadata{"device": "sensor-1", "room": "lab"}},
		{name: "value with equals", pairs: []string{"query=a=b"}, want: Metadata{"query": "a=b"}},
		{name: "empty value", pairs: []string{"flag="}, want: Metadata{"flag": ""}},
		{name: "missing separator", pairs: []string{"device"}, wantErr: `invalid metadata "device": expected key=value`},
		{name: "empty key", pairs: []string{"=value"}, wantErr: `invalid metadata "=value": expected key=value`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.pairs)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWithDoesNotAlias(t *testing.T) {
	base := Metadata{"device": "sensor-1"}
	enriched := base.With("room", "lab")

	assert.Equal(t, Metadata{"device": "sensor-1"}, base)
	assert.Equal(t, Metadata{"device": "sensor-1", "room": "lab"}, enriched)
	assert.Equal(t, Metadata{"room": "lab"}, Metadata(nil).With("room", "lab"))
}

func TestApplyAndFromMessage(t *testing.T) {
	msg := message.NewMessage("1", []byte(`{}`))
	msg.Metadata.Set("device", "old")

	Metadata{"device": "sensor-1", "room": "lab"}.Apply(msg)
	assert.Equal(t, "sensor-1", msg.Metadata.Get("device"))
	assert.Equal(t, "lab", msg.Metadata.Get("room"))

	md := FromMessage(msg)
	md["room"] = "changed"
	assert.Equal(t, "lab", msg.Metadata.Get("room"))
}
