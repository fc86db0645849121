package connectivity

import (
	"net"
	"strings"
	"sync"
)

// Class класс сетевого подключения
type Class string

const (
	ClassWifi     Class = "wifi"
	ClassCellular Class = "cellular"
	ClassEthernet Class = "ethernet"
	ClassOther    Class = "other"
	ClassNone     Class = "none"
)

// Monitor наблюдатель сетевой доступности. Конструируется явно и внедряется в
// движок синхронизации — глобального экземпляра нет.
type Monitor interface {
	IsConnected() bool
	ConnectionClass() Class
	// ShouldSyncMedia политика синхронизации крупных медиа: на wifi — да, на
	// сотовой сети — только при включённой пользовательской настройке, без
	// сети — нет.
	ShouldSyncMedia() bool
}

// StaticMonitor монитор с внешне задаваемым состоянием: мобильная оболочка
// (или тест) сообщает текущий класс сети, ядро его только читает.
type StaticMonitor struct {
	mu                sync.RWMutex
	class             Class
	allowCellularSync bool
}

// NewStatic создает монитор с заданным классом сети.
func NewStatic(class Class, allowCellularSync bool) *StaticMonitor {
	return &StaticMonitor{class: class, allowCellularSync: allowCellularSync}
}

// SetClass обновляет текущий класс сети.
func (m *StaticMonitor) SetClass(class Class) {
	m.mu.Lock()
	m.class = class
	m.mu.Unlock()
}

func (m *StaticMonitor) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.class != ClassNone
}

func (m *StaticMonitor) ConnectionClass() Class {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.class
}

func (m *StaticMonitor) ShouldSyncMedia() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return shouldSyncMedia(m.class, m.allowCellularSync)
}

func shouldSyncMedia(class Class, allowCellular bool) bool {
	switch class {
	case ClassWifi, ClassEthernet:
		return true
	case ClassCellular:
		return allowCellular
	default:
		return false
	}
}

// InterfaceMonitor определяет класс сети по активным интерфейсам хоста.
// Эвристика для десктопного клиента; мобильная оболочка передаёт состояние
// через StaticMonitor.
type InterfaceMonitor struct {
	allowCellularSync bool
	interfaces        func() ([]net.Interface, error)
}

// NewInterfaceMonitor создает монитор поверх net.Interfaces.
func NewInterfaceMonitor(allowCellularSync bool) *InterfaceMonitor {
	return &InterfaceMonitor{
		allowCellularSync: allowCellularSync,
		interfaces:        net.Interfaces,
	}
}

func (m *InterfaceMonitor) IsConnected() bool {
	return m.ConnectionClass() != ClassNone
}

func (m *InterfaceMonitor) ConnectionClass() Class {
	ifaces, err := m.interfaces()
	if err != nil {
		return ClassNone
	}

	best := ClassNone
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}

		switch classify(iface.Name) {
		case ClassEthernet:
			return ClassEthernet
		case ClassWifi:
			best = ClassWifi
		case ClassCellular:
			if best == ClassNone || best == ClassOther {
				best = ClassCellular
			}
		default:
			if best == ClassNone {
				best = ClassOther
			}
		}
	}
	return best
}

func (m *InterfaceMonitor) ShouldSyncMedia() bool {
	return shouldSyncMedia(m.ConnectionClass(), m.allowCellularSync)
}

func classify(name string) Class {
	name = strings.ToLower(name)
	switch {
	case strings.HasPrefix(name, "wl"), strings.Contains(name, "wifi"):
		return ClassWifi
	case strings.HasPrefix(name, "en"), strings.HasPrefix(name, "eth"):
		return ClassEthernet
	case strings.HasPrefix(name, "ww"), strings.HasPrefix(name, "rmnet"), strings.Contains(name, "cell"):
		return ClassCellular
	default:
		return ClassOther
	}
}
