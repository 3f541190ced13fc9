// Package profile maps each supported game client build to the process it
// runs as and the capture backends it supports.
package profile

import (
	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
)

// Profile describes one game client build.
type Profile struct {
	ClientType  domain.ClientType
	ProcessName string
	// BitBltAvailable is false for clients whose window is composited in a way
	// GDI capture cannot read (the cloud client streams into a video surface).
	BitBltAvailable bool
}

// ResolveCaptureType returns the capture backend the worker should use.
// Requests for BitBlt fall back to WindowsCapture when the client cannot be
// captured that way.
func (p Profile) ResolveCaptureType(requested domain.CaptureType) domain.CaptureType {
	if requested == "" {
		requested = domain.CaptureBitBlt
	}
	if requested == domain.CaptureBitBlt && !p.BitBltAvailable {
		return domain.CaptureWindowsCapture
	}
	return requested
}

// Target builds the watch target for this client.
func (p Profile) Target(capture domain.CaptureType) domain.Target {
	return domain.Target{
		ProcessName: p.ProcessName,
		ClientType:  p.ClientType,
		CaptureType: p.ResolveCaptureType(capture),
	}
}

func yuanShen() Profile {
	return Profile{
		ClientType:      domain.ClientYuanShen,
		ProcessName:     "YuanShen.exe",
		BitBltAvailable: true,
	}
}

func global() Profile {
	return Profile{
		ClientType:      domain.ClientGlobal,
		ProcessName:     "GenshinImpact.exe",
		BitBltAvailable: true,
	}
}

func cloud() Profile {
	return Profile{
		ClientType:      domain.ClientCloud,
		ProcessName:     "Genshin Impact Cloud Game.exe",
		BitBltAvailable: false,
	}
}
