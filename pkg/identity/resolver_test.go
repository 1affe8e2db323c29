package identity

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/esxops/vmdkops/pkg/mocks"
)

type fakeIntrospector struct {
	leader    uint32
	leaderErr error
	info      GroupInfo
	infoErr   error
}

func (f *fakeIntrospector) CartelLeader(cartelID uint32) (uint32, error) {
	return f.leader, f.leaderErr
}

func (f *fakeIntrospector) GroupInfo(leader uint32) (GroupInfo, error) {
	return f.info, f.infoErr
}

func TestResolverSuccess(t *testing.T) {
	intro := &fakeIntrospector{
		leader: 7811,
		info: GroupInfo{
			UUID:        "4220b00f1d8a42559e7b70923a06efbb",
			DisplayName: "photon-vm",
			CfgPath:     "/vmfs/volumes/datastore1/photon-vm/photon-vm.vmx",
		},
	}
	r := NewResolver(intro, logrus.New())

	vmCtx, err := r.Resolve(12345)
	assert.Nil(t, err)
	assert.Equal(t, "photon-vm", vmCtx.Name)
	assert.Equal(t, "4220b00f-1d8a-4255-9e7b-70923a06efbb", vmCtx.UUID)
	assert.Equal(t, "/vmfs/volumes/datastore1/photon-vm/photon-vm.vmx", vmCtx.CfgPath)
}

func TestResolverLeaderLookupFails(t *testing.T) {
	intro := &fakeIntrospector{leaderErr: errors.New("no such cartel")}
	r := NewResolver(intro, logrus.New())

	_, err := r.Resolve(12345)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "failed to find vmm leader for cartel 12345")
}

func TestResolverMalformedUUID(t *testing.T) {
	intro := &fakeIntrospector{
		leader: 7811,
		info:   GroupInfo{UUID: "not-a-uuid", DisplayName: "photon-vm"},
	}
	r := NewResolver(intro, logrus.New())

	_, err := r.Resolve(12345)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "malformed vm uuid")
}

func TestCanonicalUUID(t *testing.T) {
	// flat, space separated and already hyphenated inputs all normalize
	for _, raw := range []string{
		"4220b00f1d8a42559e7b70923a06efbb",
		"42 20 b0 0f 1d 8a 42 55 9e 7b 70 92 3a 06 ef bb",
		"4220b00f-1d8a-4255-9e7b-70923a06efbb",
	} {
		got, err := CanonicalUUID(raw)
		assert.Nil(t, err, raw)
		assert.Equal(t, "4220b00f-1d8a-4255-9e7b-70923a06efbb", got, raw)
	}

	_, err := CanonicalUUID("4220b00f")
	assert.NotNil(t, err)
}

func TestVSIIntrospectorCartelLeader(t *testing.T) {
	e := mocks.NewMockExecutor(map[string]mocks.CmdOut{
		fmt.Sprintf(CartelLeaderCmdTmpl, 12345): {Stdout: "7811\n"},
	})
	v := NewVSIIntrospector(e)

	leader, err := v.CartelLeader(12345)
	assert.Nil(t, err)
	assert.Equal(t, uint32(7811), leader)
}

func TestVSIIntrospectorCartelLeaderBadOutput(t *testing.T) {
	e := mocks.NewMockExecutor(map[string]mocks.CmdOut{
		fmt.Sprintf(CartelLeaderCmdTmpl, 12345): {Stdout: "VSI_NODE_NOT_FOUND"},
	})
	v := NewVSIIntrospector(e)

	_, err := v.CartelLeader(12345)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "unexpected vmmLeader value")
}

func TestVSIIntrospectorGroupInfo(t *testing.T) {
	out := `{"uuid": "4220b00f1d8a42559e7b70923a06efbb", "displayName": "photon-vm", "cfgPath": "/vmfs/volumes/ds/photon-vm/photon-vm.vmx"}`
	e := mocks.NewMockExecutor(map[string]mocks.CmdOut{
		fmt.Sprintf(GroupInfoCmdTmpl, 7811): {Stdout: out},
	})
	v := NewVSIIntrospector(e)

	info, err := v.GroupInfo(7811)
	assert.Nil(t, err)
	assert.Equal(t, "photon-vm", info.DisplayName)
	assert.Equal(t, "/vmfs/volumes/ds/photon-vm/photon-vm.vmx", info.CfgPath)
}

func TestVSIIntrospectorToolFailure(t *testing.T) {
	e := mocks.NewMockExecutor(map[string]mocks.CmdOut{
		fmt.Sprintf(GroupInfoCmdTmpl, 7811): {Stderr: "vsish: no such node", Err: errors.New("exit status 1")},
	})
	v := NewVSIIntrospector(e)

	_, err := v.GroupInfo(7811)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "vsish failed for leader 7811")
}
