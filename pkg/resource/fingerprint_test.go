package resource

import "testing"

func TestFingerprintStable(t *testing.T) {
	spec := NewSpec(TypeManagedCertificate, "cert", map[string]Value{
		"domains": Strings("app.example.com", "www.example.com"),
	})
	if err := spec.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}

	fp1 := Fingerprint(spec)
	if fp1 == "" {
		t.Fatal("Expected non-empty fingerprint")
	}
	if fp2 := Fingerprint(spec); fp1 != fp2 {
		t.Errorf("Expected same fingerprint for same spec, got %s and %s", fp1, fp2)
	}
}

func TestFingerprintSetOrderInsensitive(t *testing.T) {
	a := NewSpec(TypeManagedCertificate, "cert", map[string]Value{
		"domains": Strings("app.example.com", "www.example.com"),
	})
	b := NewSpec(TypeManagedCertificate, "cert", map[string]Value{
		"domains": Strings("www.example.com", "app.example.com"),
	})

	if Fingerprint(a) != Fingerprint(b) {
		t.Error("Expected fingerprint to ignore string set ordering")
	}
}

func TestFingerprintChangesWithAttributes(t *testing.T) {
	base := NewSpec(TypeBackendService, "api", map[string]Value{
		"backend_group": String("projects/p/regions/us/networkEndpointGroups/neg"),
		"timeout_sec":   Int(30),
	})
	changed := NewSpec(TypeBackendService, "api", map[string]Value{
		"backend_group": String("projects/p/regions/us/networkEndpointGroups/neg"),
		"timeout_sec":   Int(60),
	})

	if Fingerprint(base) == Fingerprint(changed) {
		t.Error("Expected fingerprint to change when an attribute changes")
	}
}

func TestFingerprintChangesWithDesiredState(t *testing.T) {
	present := NewSpec(TypeGlobalAddress, "ip", nil)
	absent := NewSpec(TypeGlobalAddress, "ip", nil)
	absent.Desired = DesiredAbsent

	if Fingerprint(present) == Fingerprint(absent) {
		t.Error("Expected fingerprint to change with desired state")
	}
}

func TestFingerprintUsesReferenceIdentityNotValue(t *testing.T) {
	negID := ID{Type: TypeNetworkEndpointGroup, Name: "neg"}

	withRef := NewSpec(TypeBackendService, "api", map[string]Value{
		"backend_group": Ref(negID, "self_link"),
	})
	withLiteral := NewSpec(TypeBackendService, "api", map[string]Value{
		"backend_group": String("projects/p/regions/us/networkEndpointGroups/neg"),
	})

	if Fingerprint(withRef) == Fingerprint(withLiteral) {
		t.Error("Expected a reference to fingerprint differently from a literal")
	}

	// The same reference always canonicalizes identically
	again := NewSpec(TypeBackendService, "api", map[string]Value{
		"backend_group": Ref(negID, "self_link"),
	})
	if Fingerprint(withRef) != Fingerprint(again) {
		t.Error("Expected identical references to fingerprint identically")
	}
}

func BenchmarkFingerprint(b *testing.B) {
	spec := NewSpec(TypeBackendService, "api", map[string]Value{
		"backend_group":   Ref(ID{Type: TypeNetworkEndpointGroup, Name: "neg"}, "self_link"),
		"security_policy": Ref(ID{Type: TypeSecurityPolicy, Name: "waf"}, "self_link"),
		"protocol":        String("HTTPS"),
		"timeout_sec":     Int(30),
		"enable_cdn":      Bool(true),
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Fingerprint(spec)
	}
}
