package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordViewIndexDelta(t *testing.T) {
	r := &Record{
		Type:    TypeIndex,
		ChatID:  "c",
		Version: 3,
		Entries: []Entry{
			{EntryID: "a", Version: 1},
			{EntryID: "b", Version: 2},
			{EntryID: "c", Version: 3},
		},
	}

	all := r.View(nil)
	require.Len(t, all.Entries, 3)

	known := uint64(1)
	delta := r.View(&known)
	require.Equal(t, uint64(3), delta.Version)
	require.Equal(t, []Entry{{EntryID: "b", Version: 2}, {EntryID: "c", Version: 3}}, delta.Entries)
	require.Nil(t, delta.Payload)
}

func TestRecordViewData(t *testing.T) {
	r := &Record{Type: TypeData, ChatID: "c", Version: 1, Payload: []byte("hello")}
	v := r.View(nil)
	require.Equal(t, []byte("hello"), v.Payload)
	require.Nil(t, v.Entries)

	v.Payload[0] = 'j'
	require.Equal(t, []byte("hello"), r.Payload)

	empty := (&Record{Type: TypeData, ChatID: "c", Version: 1}).View(nil)
	require.NotNil(t, empty.Payload)
	require.Empty(t, empty.Payload)
}

func TestEnvelopeWithVersion(t *testing.T) {
	e := Envelope{Node: "n", Chat: "c", Type: TypeIndex}
	withV := e.WithVersion(4)
	require.Nil(t, e.Version)
	require.Equal(t, uint64(4), *withV.Version)
	require.Equal(t, "c_n", withV.Key())
}
