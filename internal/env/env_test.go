package env

import "testing"

func TestBuildOverridesWin(t *testing.T) {
	e := New().WithBase([]string{"PATH=/bin", PortKey + "=1"}).Add([]string{PortKey + "=2", "EXTRA=x"})
	out := e.Build(Vars{PortKey: "8989", RclonePathKey: "/opt/rclone"})

	if v, _ := Lookup(out, PortKey); v != "8989" {
		t.Fatalf("port override lost: %q", v)
	}
	if v, _ := Lookup(out, RclonePathKey); v != "/opt/rclone" {
		t.Fatalf("rclone path missing: %q", v)
	}
	if v, _ := Lookup(out, "PATH"); v != "/bin" {
		t.Fatalf("base PATH lost: %q", v)
	}
	if v, _ := Lookup(out, "EXTRA"); v != "x" {
		t.Fatalf("extra lost: %q", v)
	}
}

func TestExtraExpansionUsesBase(t *testing.T) {
	e := New().WithBase([]string{"HOME=/home/u"}).Add([]string{"CONF=${HOME}/.config/rclone"})
	out := e.Build(nil)
	if v, _ := Lookup(out, "CONF"); v != "/home/u/.config/rclone" {
		t.Fatalf("expansion failed: %q", v)
	}
}

func TestOverridesAreNotExpanded(t *testing.T) {
	out := New().WithBase(nil).Build(Vars{RclonePathKey: "/weird/${HOME}/rclone"})
	if v, _ := Lookup(out, RclonePathKey); v != "/weird/${HOME}/rclone" {
		t.Fatalf("override was expanded: %q", v)
	}
}

func TestParseSkipsMalformed(t *testing.T) {
	m := Parse([]string{"=nokey", "novalue", "A=1", "A=2", "B="})
	if len(m) != 2 || m["A"] != "2" || m["B"] != "" {
		t.Fatalf("unexpected parse result: %#v", m)
	}
}

func TestFromOSIncludesHostEnv(t *testing.T) {
	t.Setenv("CLOUDSYNC_ENV_TEST", "yes")
	out := FromOS().Build(nil)
	if v, ok := Lookup(out, "CLOUDSYNC_ENV_TEST"); !ok || v != "yes" {
		t.Fatalf("host env not inherited: %q %v", v, ok)
	}
}

func TestExtraCrossReferenceIsStable(t *testing.T) {
	// map order must not decide the result, so build repeatedly
	for i := 0; i < 50; i++ {
		out := New().WithBase(nil).Add([]string{"A=${B}/a", "B=x"}).Build(nil)
		if v, _ := Lookup(out, "A"); v != "x/a" {
			t.Fatalf("run %d: A=%q", i, v)
		}
	}
}

func TestExtraSelfReferenceUsesBase(t *testing.T) {
	e := New().WithBase([]string{"PATH=/bin"}).Add([]string{"PATH=/opt/rclone:${PATH}"})
	out := e.Build(nil)
	if v, _ := Lookup(out, "PATH"); v != "/opt/rclone:/bin" {
		t.Fatalf("PATH=%q", v)
	}
}
