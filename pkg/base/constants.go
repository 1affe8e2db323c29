// Package base is for basic methods and constants which can be used by all vmdkops components
package base

const (
	// ServiceName is a name of the ESX-side volume service
	ServiceName = "vmdkops"
	// ServiceVersion is a version of the service
	ServiceVersion = "0.4.0"

	// DefaultVMCIPort is the default vSocket port the service listens on
	DefaultVMCIPort = 1019

	// DockVolsDir is the per-datastore directory that keeps docker volumes
	DockVolsDir = "dockvols"
	// DescriptorSuffix is the file extension of a VMDK descriptor file
	DescriptorSuffix = ".vmdk"
	// DescriptorSignature is the first-line marker of a VMDK descriptor file
	DescriptorSignature = "# Disk DescriptorFile"
	// MaxDescriptorSize is the upper bound in bytes for a file to be treated as a descriptor
	MaxDescriptorSize = 10000

	// MaxRequestSize is the upper bound in bytes of a single incoming request
	MaxRequestSize = 4096
	// MaxSkipCount is how many transient receive failures in a row the serve loop tolerates
	MaxSkipCount = 100

	// DefaultDiskSize is used when a create request carries no size option
	DefaultDiskSize = "100mb"
	// SizeKey is the option key that carries requested volume size
	SizeKey = "size"

	// DiskLabel marks virtual disks created by this service
	DiskLabel = "dockerDataVolume"

	// SessionUser is the local hypervisor account the service authenticates as,
	// it keeps its privileges when the host enters lockdown mode
	SessionUser = "dcui"
	// SessionTag is attached to hypervisor calls so hostd logs can be correlated with this service
	SessionTag = "dvolplug"
)
