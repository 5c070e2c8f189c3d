package entitlement

import (
	"testing"
	"time"
)

func activeCopyLicense() Entitlement {
	return Entitlement{
		Type:     GrantCopyLicense,
		StartsAt: testNow.Add(-time.Hour),
	}
}

func activeDownloadLicense() Entitlement {
	return Entitlement{
		Type:     GrantDownloadLicense,
		StartsAt: testNow.Add(-time.Hour),
	}
}

func policyWithModes(copyMode, downloadMode MonetizationMode) *ProtectionPolicy {
	p := DefaultProtectionPolicy("school-1")
	p.CopyMode = copyMode
	p.DownloadMode = downloadMode
	return &p
}

// TestCanCopy exercises the full mode × access-level grid. Under ADDON the
// permission is the logical AND of full access and a matching active
// license; under INCLUDED_WITH_ACCESS it depends only on full access; under
// DISALLOW it is always false; PREVIEW and LOCKED deny regardless of mode.
func TestCanCopy(t *testing.T) {
	tests := []struct {
		name         string
		policy       *ProtectionPolicy
		entitlements []Entitlement
		accessLevel  AccessLevel
		want         bool
	}{
		{
			name:        "nil policy denies",
			policy:      nil,
			accessLevel: AccessFull,
			want:        false,
		},
		{
			name:        "included mode with full access",
			policy:      policyWithModes(ModeIncluded, ModeDisallow),
			accessLevel: AccessFull,
			want:        true,
		},
		{
			name:        "included mode with preview access",
			policy:      policyWithModes(ModeIncluded, ModeDisallow),
			accessLevel: AccessPreview,
			want:        false,
		},
		{
			name:        "included mode with locked access",
			policy:      policyWithModes(ModeIncluded, ModeDisallow),
			accessLevel: AccessLocked,
			want:        false,
		},
		{
			name:         "addon mode with full access and license",
			policy:       policyWithModes(ModeAddon, ModeDisallow),
			entitlements: []Entitlement{activeCopyLicense()},
			accessLevel:  AccessFull,
			want:         true,
		},
		{
			name:        "addon mode with full access but no license",
			policy:      policyWithModes(ModeAddon, ModeDisallow),
			accessLevel: AccessFull,
			want:        false,
		},
		{
			name:         "addon mode with license but locked access",
			policy:       policyWithModes(ModeAddon, ModeDisallow),
			entitlements: []Entitlement{activeCopyLicense()},
			accessLevel:  AccessLocked,
			want:         false,
		},
		{
			name:         "addon mode ignores download license",
			policy:       policyWithModes(ModeAddon, ModeDisallow),
			entitlements: []Entitlement{activeDownloadLicense()},
			accessLevel:  AccessFull,
			want:         false,
		},
		{
			name: "addon mode with expired license",
			policy: policyWithModes(ModeAddon, ModeDisallow),
			entitlements: []Entitlement{{
				Type:     GrantCopyLicense,
				StartsAt: testNow.Add(-2 * time.Hour),
				EndsAt:   timePtr(testNow.Add(-time.Hour)),
			}},
			accessLevel: AccessFull,
			want:        false,
		},
		{
			name:         "disallow mode denies even with license and access",
			policy:       policyWithModes(ModeDisallow, ModeDisallow),
			entitlements: []Entitlement{activeCopyLicense()},
			accessLevel:  AccessFull,
			want:         false,
		},
		{
			name:        "unknown mode denies",
			policy:      policyWithModes(MonetizationMode("SOMETHING_NEW"), ModeDisallow),
			accessLevel: AccessFull,
			want:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CanCopy(PermissionInput{
				Policy:       tt.policy,
				Entitlements: tt.entitlements,
				AccessLevel:  tt.accessLevel,
				Now:          testNow,
			})
			if got != tt.want {
				t.Errorf("CanCopy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanDownload(t *testing.T) {
	tests := []struct {
		name         string
		policy       *ProtectionPolicy
		entitlements []Entitlement
		accessLevel  AccessLevel
		want         bool
	}{
		{
			name:        "included mode with full access",
			policy:      policyWithModes(ModeDisallow, ModeIncluded),
			accessLevel: AccessFull,
			want:        true,
		},
		{
			name:         "addon mode with download license",
			policy:       policyWithModes(ModeDisallow, ModeAddon),
			entitlements: []Entitlement{activeDownloadLicense()},
			accessLevel:  AccessFull,
			want:         true,
		},
		{
			name:         "addon mode ignores copy license",
			policy:       policyWithModes(ModeDisallow, ModeAddon),
			entitlements: []Entitlement{activeCopyLicense()},
			accessLevel:  AccessFull,
			want:         false,
		},
		{
			name:         "preview never downloads",
			policy:       policyWithModes(ModeDisallow, ModeIncluded),
			entitlements: []Entitlement{activeDownloadLicense()},
			accessLevel:  AccessPreview,
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CanDownload(PermissionInput{
				Policy:       tt.policy,
				Entitlements: tt.entitlements,
				AccessLevel:  tt.accessLevel,
				Now:          testNow,
			})
			if got != tt.want {
				t.Errorf("CanDownload() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestLicenseScanAcceptsLegacyFieldName covers licenses arriving as raw
// records written under the historical entitlement_type spelling.
func TestLicenseScanAcceptsLegacyFieldName(t *testing.T) {
	recs := []Record{
		{
			"entitlement_type": "COPY_LICENSE",
			"starts_at":        testNow.Add(-time.Hour),
		},
	}

	entitlements := EntitlementsFromRecords(recs)
	if !HasCopyLicense(entitlements, testNow) {
		t.Error("HasCopyLicense() = false for legacy-spelled record, want true")
	}
	if HasDownloadLicense(entitlements, testNow) {
		t.Error("HasDownloadLicense() = true, want false")
	}
}

func TestDefaultProtectionPolicy(t *testing.T) {
	p := DefaultProtectionPolicy("school-1")
	if !p.ProtectContent {
		t.Error("default policy does not protect content")
	}
	if p.AllowPreviews {
		t.Error("default policy allows previews")
	}
	if p.CopyMode != ModeDisallow || p.DownloadMode != ModeDisallow {
		t.Errorf("default modes = %q/%q, want DISALLOW/DISALLOW", p.CopyMode, p.DownloadMode)
	}

	in := PermissionInput{Policy: &p, AccessLevel: AccessFull, Now: testNow}
	if CanCopy(in) || CanDownload(in) {
		t.Error("default policy permits copy or download, want both denied")
	}
}
