package attach

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	errTypes "github.com/esxops/vmdkops/pkg/base/error"
	"github.com/esxops/vmdkops/pkg/hypervisor"
	"github.com/esxops/vmdkops/pkg/kvstore"
)

var testLogger = logrus.New()

const testVMUUID = "4220b00f-1d8a-4255-9e7b-70923a06efbb"

// fakeMachine serves scripted device snapshots and records reconfigurations
type fakeMachine struct {
	uuid string
	name string

	snapshots [][]hypervisor.Device
	devErr    error
	devCalls  int

	reconfigured [][]hypervisor.DeviceChange
	reconfErr    error
}

func (m *fakeMachine) UUID() string { return m.uuid }
func (m *fakeMachine) Name() string { return m.name }

func (m *fakeMachine) Devices(ctx context.Context) ([]hypervisor.Device, error) {
	if m.devErr != nil {
		return nil, m.devErr
	}
	i := m.devCalls
	if i >= len(m.snapshots) {
		i = len(m.snapshots) - 1
	}
	m.devCalls++
	return m.snapshots[i], nil
}

func (m *fakeMachine) Reconfigure(ctx context.Context, changes []hypervisor.DeviceChange) (hypervisor.TaskRef, error) {
	m.reconfigured = append(m.reconfigured, changes)
	if m.reconfErr != nil {
		return "", m.reconfErr
	}
	return hypervisor.TaskRef(fmt.Sprintf("task-%d", len(m.reconfigured))), nil
}

type fakeWaiter struct {
	err    error
	waited [][]hypervisor.TaskRef
}

func (w *fakeWaiter) Wait(ctx context.Context, tasks []hypervisor.TaskRef) error {
	w.waited = append(w.waited, tasks)
	return w.err
}

func controllerAt(bus int32, paraVirtual bool) hypervisor.Device {
	return hypervisor.Device{
		Key:        hypervisor.SCSIControllerKeyOffset + bus,
		Controller: &hypervisor.ControllerInfo{BusNumber: bus, ParaVirtual: paraVirtual},
	}
}

func diskAt(key int32, controllerKey, unit int32, backing string) hypervisor.Device {
	return hypervisor.Device{
		Key:  key,
		Disk: &hypervisor.DiskInfo{ControllerKey: controllerKey, UnitNumber: unit, BackingFile: backing},
	}
}

func machineWith(devices []hypervisor.Device) *fakeMachine {
	return &fakeMachine{uuid: testVMUUID, name: "photon-vm", snapshots: [][]hypervisor.Device{devices}}
}

// newTestEngine returns an engine over a real metadata store plus the
// descriptor path of volume vol1 inside the store's directory
func newTestEngine(t *testing.T, waiter *fakeWaiter) (*EngineImpl, string, kvstore.Store) {
	dir := t.TempDir()
	factory := kvstore.NewBoltFactory(testLogger)
	t.Cleanup(func() {
		assert.Nil(t, factory.Close())
	})
	store, err := factory.StoreFor(dir)
	assert.Nil(t, err)
	return NewEngineImpl(factory, waiter, testLogger), filepath.Join(dir, "vol1.vmdk"), store
}

func TestAttachAddsControllerAndDisk(t *testing.T) {
	waiter := &fakeWaiter{}
	e, path, store := newTestEngine(t, waiter)
	vm := &fakeMachine{uuid: testVMUUID, name: "photon-vm", snapshots: [][]hypervisor.Device{{}}}

	res, err := e.Attach(context.Background(), vm, path)
	assert.Nil(t, err)
	assert.Equal(t, Result{Unit: 0, Bus: 0}, res)

	assert.Len(t, vm.reconfigured, 1)
	changes := vm.reconfigured[0]
	assert.Len(t, changes, 2)
	assert.Equal(t, hypervisor.AddDevice, changes[0].Op)
	assert.Equal(t, int32(hypervisor.SCSIControllerKeyOffset), changes[0].Device.Key)
	assert.True(t, changes[0].Device.Controller.ParaVirtual)
	assert.Equal(t, hypervisor.AddDevice, changes[1].Op)
	assert.Equal(t, "[] "+path, changes[1].Device.Disk.BackingFile)
	assert.Equal(t, int32(0), changes[1].Device.Disk.UnitNumber)

	assert.Len(t, waiter.waited, 1)

	owner, attached, err := kvstore.GetStatusAttached(store, "vol1")
	assert.Nil(t, err)
	assert.True(t, attached)
	assert.Equal(t, testVMUUID, owner)
}

func TestAttachPicksLowestFreeUnit(t *testing.T) {
	waiter := &fakeWaiter{}
	e, path, _ := newTestEngine(t, waiter)
	key := int32(hypervisor.SCSIControllerKeyOffset)
	vm := &fakeMachine{uuid: testVMUUID, name: "photon-vm", snapshots: [][]hypervisor.Device{{
		controllerAt(0, true),
		diskAt(2000, key, 0, "[ds] other/a.vmdk"),
		diskAt(2001, key, 1, "[ds] other/b.vmdk"),
		diskAt(2002, key, 2, "[ds] other/c.vmdk"),
	}}}

	res, err := e.Attach(context.Background(), vm, path)
	assert.Nil(t, err)
	assert.Equal(t, Result{Unit: 3, Bus: 0}, res)
	assert.Len(t, vm.reconfigured, 1)
	assert.Len(t, vm.reconfigured[0], 1)
}

func TestAttachSkipsReservedUnit(t *testing.T) {
	waiter := &fakeWaiter{}
	e, path, _ := newTestEngine(t, waiter)
	key := int32(hypervisor.SCSIControllerKeyOffset)
	devices := []hypervisor.Device{controllerAt(0, true)}
	for unit := int32(0); unit <= 6; unit++ {
		devices = append(devices, diskAt(2000+unit, key, unit, fmt.Sprintf("[ds] other/d%d.vmdk", unit)))
	}

	res, err := e.Attach(context.Background(), machineWith(devices), path)
	assert.Nil(t, err)
	assert.Equal(t, Result{Unit: 8, Bus: 0}, res)
}

func TestAttachOutOfDiskSlots(t *testing.T) {
	waiter := &fakeWaiter{}
	e, path, _ := newTestEngine(t, waiter)
	key := int32(hypervisor.SCSIControllerKeyOffset)
	devices := []hypervisor.Device{controllerAt(0, true)}
	for unit := int32(0); unit < hypervisor.SCSIMaxUnit; unit++ {
		if unit == hypervisor.SCSIReservedUnit {
			continue
		}
		devices = append(devices, diskAt(2000+unit, key, unit, fmt.Sprintf("[ds] other/d%d.vmdk", unit)))
	}
	vm := machineWith(devices)

	_, err := e.Attach(context.Background(), vm, path)
	assert.True(t, errors.Is(err, errTypes.ErrorOutOfDiskSlots))
	assert.Empty(t, vm.reconfigured)
	assert.Empty(t, waiter.waited)
}

func TestAttachOutOfBusSlots(t *testing.T) {
	waiter := &fakeWaiter{}
	e, path, _ := newTestEngine(t, waiter)
	vm := machineWith([]hypervisor.Device{
		controllerAt(0, false),
		controllerAt(1, false),
		controllerAt(2, false),
		controllerAt(3, false),
	})

	_, err := e.Attach(context.Background(), vm, path)
	assert.True(t, errors.Is(err, errTypes.ErrorOutOfBusSlots))
	assert.Empty(t, vm.reconfigured)
	assert.Empty(t, waiter.waited)
}

func TestAttachAddsControllerNextToForeignOnes(t *testing.T) {
	waiter := &fakeWaiter{}
	e, path, _ := newTestEngine(t, waiter)
	vm := machineWith([]hypervisor.Device{controllerAt(0, false), controllerAt(2, false)})

	res, err := e.Attach(context.Background(), vm, path)
	assert.Nil(t, err)
	// bus 1 is the lowest hole, disk starts the fresh controller at unit 0
	assert.Equal(t, Result{Unit: 0, Bus: 1}, res)
	changes := vm.reconfigured[0]
	assert.Len(t, changes, 2)
	assert.Equal(t, int32(1), changes[0].Device.Controller.BusNumber)
	assert.Equal(t, int32(hypervisor.SCSIControllerKeyOffset+1), changes[1].Device.Disk.ControllerKey)
}

func TestAttachTwiceIssuesOneReconfiguration(t *testing.T) {
	waiter := &fakeWaiter{}
	e, path, _ := newTestEngine(t, waiter)
	key := int32(hypervisor.SCSIControllerKeyOffset)
	before := []hypervisor.Device{controllerAt(0, true)}
	after := []hypervisor.Device{
		controllerAt(0, true),
		diskAt(2000, key, 0, "[ds] "+backingSuffix(path)),
	}
	vm := &fakeMachine{uuid: testVMUUID, name: "photon-vm",
		snapshots: [][]hypervisor.Device{before, after}}

	first, err := e.Attach(context.Background(), vm, path)
	assert.Nil(t, err)
	second, err := e.Attach(context.Background(), vm, path)
	assert.Nil(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, vm.reconfigured, 1)
	assert.Len(t, waiter.waited, 1)
}

func TestAttachReportsDiscoveredPlacement(t *testing.T) {
	waiter := &fakeWaiter{}
	e, path, store := newTestEngine(t, waiter)
	vm := machineWith([]hypervisor.Device{
		controllerAt(1, true),
		diskAt(2000, hypervisor.SCSIControllerKeyOffset+1, 5, "[ds] "+backingSuffix(path)),
	})

	res, err := e.Attach(context.Background(), vm, path)
	assert.Nil(t, err)
	assert.Equal(t, Result{Unit: 5, Bus: 1}, res)
	assert.Empty(t, vm.reconfigured)

	owner, attached, err := kvstore.GetStatusAttached(store, "vol1")
	assert.Nil(t, err)
	assert.True(t, attached)
	assert.Equal(t, testVMUUID, owner)
}

func TestAttachFaultCarriesOwnerHint(t *testing.T) {
	waiter := &fakeWaiter{err: errTypes.NewFault("Failed to add disk scsi0:0")}
	e, path, store := newTestEngine(t, waiter)
	assert.Nil(t, store.Create("vol1", map[string]string{
		kvstore.StatusKey:     kvstore.StatusAttached,
		kvstore.AttachedVMKey: "0000aaaa-bbbb-cccc-dddd-eeeeffff0000",
	}))
	vm := machineWith([]hypervisor.Device{controllerAt(0, true)})

	_, err := e.Attach(context.Background(), vm, path)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "Failed to add disk scsi0:0")
	assert.Contains(t, err.Error(), "already attached to VM=0000aaaa-bbbb-cccc-dddd-eeeeffff0000")

	// the fault does not rewrite metadata
	owner, attached, err := kvstore.GetStatusAttached(store, "vol1")
	assert.Nil(t, err)
	assert.True(t, attached)
	assert.Equal(t, "0000aaaa-bbbb-cccc-dddd-eeeeffff0000", owner)
}

func TestAttachFaultWithoutMetadataStaysBare(t *testing.T) {
	waiter := &fakeWaiter{err: errors.New("generic task failure")}
	e, path, _ := newTestEngine(t, waiter)
	vm := machineWith([]hypervisor.Device{controllerAt(0, true)})

	_, err := e.Attach(context.Background(), vm, path)
	assert.NotNil(t, err)
	assert.Equal(t, "generic task failure", err.Error())
}

func TestDetachRemovesDiscoveredDevice(t *testing.T) {
	waiter := &fakeWaiter{}
	e, path, store := newTestEngine(t, waiter)
	assert.Nil(t, store.Create("vol1", map[string]string{
		kvstore.StatusKey:     kvstore.StatusAttached,
		kvstore.AttachedVMKey: testVMUUID,
	}))
	vm := machineWith([]hypervisor.Device{
		controllerAt(0, true),
		diskAt(2000, hypervisor.SCSIControllerKeyOffset, 3, "[ds] "+backingSuffix(path)),
	})

	assert.Nil(t, e.Detach(context.Background(), vm, path))
	assert.Len(t, vm.reconfigured, 1)
	changes := vm.reconfigured[0]
	assert.Len(t, changes, 1)
	assert.Equal(t, hypervisor.RemoveDevice, changes[0].Op)
	assert.Equal(t, int32(2000), changes[0].Device.Key)

	meta, err := store.GetAll("vol1")
	assert.Nil(t, err)
	assert.Equal(t, kvstore.StatusDetached, meta[kvstore.StatusKey])
	assert.NotContains(t, meta, kvstore.AttachedVMKey)
}

func TestDetachMissingDeviceIsNotFound(t *testing.T) {
	waiter := &fakeWaiter{}
	e, path, _ := newTestEngine(t, waiter)
	vm := machineWith([]hypervisor.Device{
		controllerAt(0, true),
		diskAt(2000, hypervisor.SCSIControllerKeyOffset, 0, "[ds] other/unrelated.vmdk"),
	})

	err := e.Detach(context.Background(), vm, path)
	assert.True(t, errors.Is(err, errTypes.ErrorNotFound))
	assert.Empty(t, vm.reconfigured)
	assert.Empty(t, waiter.waited)
}

func TestDetachFaultKeepsAttachedStatus(t *testing.T) {
	waiter := &fakeWaiter{err: errTypes.NewFault("Invalid configuration", "device busy")}
	e, path, store := newTestEngine(t, waiter)
	assert.Nil(t, store.Create("vol1", map[string]string{
		kvstore.StatusKey:     kvstore.StatusAttached,
		kvstore.AttachedVMKey: testVMUUID,
	}))
	vm := machineWith([]hypervisor.Device{
		controllerAt(0, true),
		diskAt(2000, hypervisor.SCSIControllerKeyOffset, 3, "[ds] "+backingSuffix(path)),
	})

	err := e.Detach(context.Background(), vm, path)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "Invalid configuration, device busy")

	owner, attached, err := kvstore.GetStatusAttached(store, "vol1")
	assert.Nil(t, err)
	assert.True(t, attached)
	assert.Equal(t, testVMUUID, owner)
}

func TestBackingSuffixResolvesSymlinkedDir(t *testing.T) {
	root := t.TempDir()
	object := filepath.Join(root, "52e2f9a1-7f5c-bb61-32a0-020010abcdef")
	assert.Nil(t, os.Mkdir(object, 0755))
	link := filepath.Join(root, "dockvols")
	assert.Nil(t, os.Symlink(object, link))

	suffix := backingSuffix(filepath.Join(link, "vol1.vmdk"))
	assert.Equal(t, "52e2f9a1-7f5c-bb61-32a0-020010abcdef/vol1.vmdk", suffix)
}

func TestLowestFreeUnitSkipsReserved(t *testing.T) {
	key := int32(hypervisor.SCSIControllerKeyOffset)
	devices := []hypervisor.Device{controllerAt(0, true)}
	for unit := int32(0); unit < hypervisor.SCSIReservedUnit; unit++ {
		devices = append(devices, diskAt(2000+unit, key, unit, "x"))
	}

	unit, ok := lowestFreeUnit(devices, key)
	assert.True(t, ok)
	assert.Equal(t, int32(8), unit)
}

func TestDevicesFailurePropagates(t *testing.T) {
	waiter := &fakeWaiter{}
	e, path, _ := newTestEngine(t, waiter)
	vm := &fakeMachine{uuid: testVMUUID, name: "photon-vm", devErr: errors.New("vm powered off")}

	_, err := e.Attach(context.Background(), vm, path)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "failed to read devices")

	assert.NotNil(t, e.Detach(context.Background(), vm, path))
}
