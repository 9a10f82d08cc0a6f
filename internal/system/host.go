package system

import (
	"golang.org/x/sys/unix"
)

// Host identifies the machine in reports.
type Host struct {
	Machine string
	Kernel  string
}

func Uname() Host {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return Host{Machine: "unknown", Kernel: "unknown"}
	}
	return Host{
		Machine: unix.ByteSliceToString(u.Machine[:]),
		Kernel:  unix.ByteSliceToString(u.Release[:]) + " (" + unix.ByteSliceToString(u.Version[:]) + ")",
	}
}
