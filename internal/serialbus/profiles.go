package serialbus

import (
	"fmt"
	"sort"
)

// Profile describes one device family speaking the command-bus protocol.
type Profile struct {
	Name        string
	Description string
	Operations  []Operation

	// IdentifyCommand is sent during the handshake and must come back as
	// line 0 of the reply.
	IdentifyCommand string
	// IdentityMarker prefixes line 2 of the handshake reply.
	IdentityMarker string
	IdentityOffset int
	IdentityWidth  int

	// ErrorToken in line 1 of a reply marks a device-reported error.
	ErrorToken string
	// DefaultCommand replaces an empty command.
	DefaultCommand string
}

// commandBusOperations is the command table shared by the PICAXE based
// devices. list is write-class but served from the scan.
func commandBusOperations() []Operation {
	return []Operation{
		{Name: "about", Class: ClassRead, Kind: KindDevice},
		{Name: "get", Class: ClassRead, Kind: KindDevice},
		{Name: "gettemp", Class: ClassRead, Kind: KindDevice},
		{Name: "getanalog", Class: ClassRead, Kind: KindDevice},
		{Name: "status", Class: ClassRead, Kind: KindStatus},
		{Name: "on", Class: ClassWrite, Kind: KindDevice},
		{Name: "off", Class: ClassWrite, Kind: KindDevice},
		{Name: "toggle", Class: ClassWrite, Kind: KindDevice},
		{Name: "setmode", Class: ClassWrite, Kind: KindDevice},
		{Name: "settempres", Class: ClassWrite, Kind: KindDevice},
		{Name: "setid", Class: ClassWrite, Kind: KindDevice},
		{Name: "list", Class: ClassWrite, Kind: KindList},
		{Name: "capabilities", Class: ClassMeta, Kind: KindLocal},
		{Name: "description", Class: ClassMeta, Kind: KindLocal},
	}
}

func commandBusProfile(name, description string) *Profile {
	return &Profile{
		Name:            name,
		Description:     description,
		Operations:      commandBusOperations(),
		IdentifyCommand: "ABOUT",
		IdentityMarker:  "ID",
		IdentityOffset:  3,
		IdentityWidth:   2,
		ErrorToken:      "ERROR",
		DefaultCommand:  "ABOUT",
	}
}

// Built-in profile names.
const (
	ProfileUK1104 = "uk1104"
	ProfilePiko55 = "piko55"
)

// LookupProfile returns a fresh copy of a built-in profile.
func LookupProfile(name string) (*Profile, error) {
	switch name {
	case ProfileUK1104:
		return commandBusProfile(ProfileUK1104, "CanaKit UK 1104 PICaxe 18 micro controller relay board"), nil
	case ProfilePiko55:
		return commandBusProfile(ProfilePiko55, "Kostal Solar electric - PIKO 5.5 - photovoltaic power plant"), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
}

// ProfileNames lists the built-in profiles.
func ProfileNames() []string {
	names := []string{ProfileUK1104, ProfilePiko55}
	sort.Strings(names)
	return names
}
