package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndex(t *testing.T) {
	for _, tc := range []struct {
		name    string
		in      int
		want    int
		wantErr bool
	}{
		{name: "zero", in: 0, want: 0},
		{name: "positive", in: 42, want: 42},
		{name: "negative", in: -1, wantErr: true},
		{name: "very negative", in: -100, wantErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Index(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				require.ErrorIs(t, err, ErrIndexOutOfRange)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCpuIndexAndNodeIndex(t *testing.T) {
	got, err := CpuIndex(CpuId(3))
	require.NoError(t, err)
	require.Equal(t, 3, got)

	_, err = CpuIndex(CpuId(-1))
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	got, err = NodeIndex(NodeId(2))
	require.NoError(t, err)
	require.Equal(t, 2, got)

	_, err = NodeIndex(NodeId(-5))
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}
