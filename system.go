package netsync

import (
	"path/filepath"
	"reflect"
	"runtime"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/driftline/netsync/statsd"
)

// System is one simulation step. Systems run in registration order inside
// every tick, before the snapshot flush.
type System func(e *Engine) error

// SystemManager runs registered systems in a fixed order.
type SystemManager struct {
	// registeredSystems is a list of all the registered system names in
	// the order that they were registered, since maps in Go are unordered.
	registeredSystems []string

	systemFn map[string]System

	initSystem      System
	isInitSystemRan bool
}

func NewSystemManager() *SystemManager {
	return &SystemManager{
		registeredSystems: make([]string, 0),
		systemFn:          make(map[string]System),
	}
}

// RegisterSystems registers multiple systems. There can only be one system
// with a given name, which is derived from the function name. On a
// duplicate none of the given systems are registered.
func (m *SystemManager) RegisterSystems(systems ...System) error {
	systemNames := make([]string, 0, len(systems))
	for _, system := range systems {
		systemName := filepath.Base(runtime.FuncForPC(reflect.ValueOf(system).Pointer()).Name())
		if slices.Contains(systemNames, systemName) {
			return eris.Errorf("duplicate system %q in slice", systemName)
		}
		if slices.Contains(m.registeredSystems, systemName) {
			return eris.Errorf("system %q is already registered", systemName)
		}
		systemNames = append(systemNames, systemName)
	}
	for i, systemName := range systemNames {
		m.registeredSystems = append(m.registeredSystems, systemName)
		m.systemFn[systemName] = systems[i]
	}
	return nil
}

// RegisterInitSystem registers the system that runs once before tick 0.
func (m *SystemManager) RegisterInitSystem(system System) {
	m.initSystem = system
}

func (m *SystemManager) GetSystemNames() []string {
	return m.registeredSystems
}

// RunSystems runs all registered systems in registration order.
func (m *SystemManager) RunSystems(e *Engine) error {
	allSystemStartTime := time.Now()
	for _, systemName := range m.registeredSystems {
		systemStartTime := time.Now()
		if err := m.systemFn[systemName](e); err != nil {
			return eris.Wrapf(err, "system %s generated an error", systemName)
		}
		statsd.EmitTickStat(systemStartTime, systemName)
	}
	statsd.EmitTickStat(allSystemStartTime, "all_systems")
	return nil
}

// RunInitSystem runs the init system. It only ever runs once.
func (m *SystemManager) RunInitSystem(e *Engine) error {
	if m.initSystem == nil || m.isInitSystemRan {
		return nil
	}
	m.isInitSystemRan = true
	if err := m.initSystem(e); err != nil {
		return eris.Wrap(err, "init system generated an error")
	}
	return nil
}
