package changes

import (
	"reflect"
	"testing"
)

func TestAffected_LongestPrefixWins(t *testing.T) {
	owners := NewOwnershipMap()
	owners.Add("modules", ModuleRef{Environment: "dev", Module: "vpc"}, ModuleRef{Environment: "prod", Module: "vpc"})
	owners.Add("modules/database", ModuleRef{Environment: "dev", Module: "db"})

	// The deeper root owns the path; the shallower shared root must not fire.
	got := Affected([]string{"modules/database/main.tf"}, owners)
	want := []ModuleRef{{Environment: "dev", Module: "db"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestAffected_SharedRootFansOut(t *testing.T) {
	owners := NewOwnershipMap()
	owners.Add("modules/vpc",
		ModuleRef{Environment: "dev", Module: "vpc"},
		ModuleRef{Environment: "prod", Module: "vpc"})

	got := Affected([]string{"modules/vpc/variables.tf"}, owners)
	if len(got) != 2 {
		t.Fatalf("expected both environments affected, got %v", got)
	}
}

func TestAffected_UnownedPathsIgnored(t *testing.T) {
	owners := NewOwnershipMap()
	owners.Add("envs/dev/vpc", ModuleRef{Environment: "dev", Module: "vpc"})

	got := Affected([]string{"README.md", "docs/arch.md"}, owners)
	if len(got) != 0 {
		t.Errorf("expected no affected modules, got %v", got)
	}
}

func TestAffected_NoPartialSegmentMatch(t *testing.T) {
	owners := NewOwnershipMap()
	owners.Add("envs/dev/vpc", ModuleRef{Environment: "dev", Module: "vpc"})

	// "envs/dev/vpc2" shares a string prefix but not a path prefix.
	got := Affected([]string{"envs/dev/vpc2/main.tf"}, owners)
	if len(got) != 0 {
		t.Errorf("expected no affected modules, got %v", got)
	}
}

func TestAffected_DeduplicatedAndSorted(t *testing.T) {
	owners := NewOwnershipMap()
	owners.Add("envs/prod/app", ModuleRef{Environment: "prod", Module: "app"})
	owners.Add("envs/dev/app", ModuleRef{Environment: "dev", Module: "app"})

	got := Affected([]string{
		"envs/prod/app/main.tf",
		"envs/dev/app/main.tf",
		"envs/dev/app/vars.tf",
	}, owners)

	want := []ModuleRef{
		{Environment: "dev", Module: "app"},
		{Environment: "prod", Module: "app"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestAffected_ExactRootMatch(t *testing.T) {
	owners := NewOwnershipMap()
	owners.Add("envs/dev/vpc", ModuleRef{Environment: "dev", Module: "vpc"})

	got := Affected([]string{"envs/dev/vpc"}, owners)
	if len(got) != 1 {
		t.Errorf("expected exact root path to match, got %v", got)
	}
}

func TestEnvironments(t *testing.T) {
	refs := []ModuleRef{
		{Environment: "prod", Module: "a"},
		{Environment: "dev", Module: "b"},
		{Environment: "dev", Module: "c"},
	}
	got := Environments(refs)
	want := []string{"dev", "prod"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}
