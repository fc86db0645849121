package connectivity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldSyncMedia(t *testing.T) {
	tests := []struct {
		name          string
		class         Class
		allowCellular bool
		want          bool
	}{
		{"wifi всегда разрешен", ClassWifi, false, true},
		{"ethernet всегда разрешен", ClassEthernet, false, true},
		{"сотовая сеть запрещена по умолчанию", ClassCellular, false, false},
		{"сотовая сеть по явному разрешению", ClassCellular, true, true},
		{"без сети медиа не синхронизируются", ClassNone, true, false},
		{"неизвестный класс не синхронизируется", ClassOther, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldSyncMedia(tt.class, tt.allowCellular))
		})
	}
}

func TestStaticMonitor(t *testing.T) {
	m := NewStatic(ClassWifi, false)

	assert.True(t, m.IsConnected())
	assert.Equal(t, ClassWifi, m.ConnectionClass())
	assert.True(t, m.ShouldSyncMedia())

	m.SetClass(ClassCellular)
	assert.True(t, m.IsConnected())
	assert.False(t, m.ShouldSyncMedia())

	m.SetClass(ClassNone)
	assert.False(t, m.IsConnected())
	assert.False(t, m.ShouldSyncMedia())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		iface string
		want  Class
	}{
		{"wlan0", ClassWifi},
		{"wlp3s0", ClassWifi},
		{"eth0", ClassEthernet},
		{"enp0s25", ClassEthernet},
		{"wwan0", ClassCellular},
		{"rmnet_data0", ClassCellular},
		{"tun0", ClassOther},
	}

	for _, tt := range tests {
		t.Run(tt.iface, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.iface))
		})
	}
}
