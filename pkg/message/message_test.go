package message

import "testing"

func TestNewRefcount(t *testing.T) {
	m := New([]byte("hello"))
	if m.RefCount() != 1 {
		t.Fatalf("RefCount = %d, want 1", m.RefCount())
	}
	m.Ref()
	if m.RefCount() != 2 {
		t.Fatalf("RefCount = %d, want 2", m.RefCount())
	}
	if last := m.Unref(); last {
		t.Fatalf("Unref reported last reference too early")
	}
	if last := m.Unref(); !last {
		t.Fatalf("Unref did not report last reference")
	}
}

func TestTags(t *testing.T) {
	m := New(nil)
	if m.HasTag(TagMark) {
		t.Fatalf("fresh message should not have TagMark")
	}
	m.SetTag(TagMark)
	m.SetTag(TagLocal)
	if !m.HasTag(TagMark) || !m.HasTag(TagLocal) {
		t.Fatalf("tags not set")
	}
	if m.HasTag(TagInternal) {
		t.Fatalf("unset tag reported as set")
	}
}

func TestSetGetValue(t *testing.T) {
	m := New(nil)
	if _, ok := m.GetValue("host"); ok {
		t.Fatalf("unset value reported as present")
	}
	m.SetValue("host", []byte("example.com"))
	v, ok := m.GetValue("host")
	if !ok || string(v) != "example.com" {
		t.Fatalf("GetValue = %q, %v; want example.com, true", v, ok)
	}
}

func TestCloneCopyOnWrite(t *testing.T) {
	parent := New([]byte("body"))
	parent.SetValue("host", []byte("a"))

	child := parent.Clone()
	v, _ := child.GetValue("host")
	if string(v) != "a" {
		t.Fatalf("clone should see parent's value, got %q", v)
	}

	child.SetValue("host", []byte("b"))

	pv, _ := parent.GetValue("host")
	if string(pv) != "a" {
		t.Fatalf("mutating clone leaked into parent: parent host=%q", pv)
	}
	cv, _ := child.GetValue("host")
	if string(cv) != "b" {
		t.Fatalf("clone did not observe its own write: %q", cv)
	}
}

func TestAckResolvesAllRegisteredCallbacks(t *testing.T) {
	m := New(nil)
	var gotA, gotB AckStatus
	var calledA, calledB bool

	m.AddAck(PathOptions{AckNeeded: true}, func(s AckStatus) { calledA = true; gotA = s })
	m.AddAck(PathOptions{AckNeeded: true}, func(s AckStatus) { calledB = true; gotB = s })
	m.AddAck(PathOptions{AckNeeded: false}, func(s AckStatus) { t.Fatalf("ack-not-needed callback invoked") })

	m.Ack(PathOptions{}, AckProcessed)

	if !calledA || !calledB {
		t.Fatalf("not all ack callbacks invoked: a=%v b=%v", calledA, calledB)
	}
	if gotA != AckProcessed || gotB != AckProcessed {
		t.Fatalf("ack status mismatch: a=%v b=%v", gotA, gotB)
	}
}
