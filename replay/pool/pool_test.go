package pool

import (
	"fmt"
	"runtime"
	"testing"
)

func newAsserter(t *testing.T) func(cond bool, msg string, args ...interface{}) {
	return func(cond bool, msg string, args ...interface{}) {
		if cond {
			return
		}

		_, file, line, ok := runtime.Caller(1)
		if !ok {
			file = "???"
			line = 0
		}

		s := fmt.Sprintf(msg, args...)
		t.Fatalf("\n%s: %d: Assertion failed: %s\n", file, line, s)
	}
}

func TestParseSinglePoolNoRedundancy(t *testing.T) {
	assert := newAsserter(t)

	out := "NAME    SIZE  ALLOC   FREE  EXPANDSZ   FRAG    CAP  DEDUP  HEALTH  ALTROOT\n" +
		"tank    100G    40G    60G         -     3%    40%  1.00x  ONLINE  -\n" +
		"  sda   100G    40G    60G         -     3%      -      -       -  -\n"

	pools := Parse(out)
	assert(len(pools) == 1, "expected 1 pool, got %d", len(pools))
	p := pools[0]
	assert(p.Name == "tank", "unexpected pool name %s", p.Name)
	assert(p.Stats.Health == "ONLINE", "unexpected health %s", p.Stats.Health)
	assert(len(p.Vdevs) == 0, "expected no vdev rows, got %d", len(p.Vdevs))
}

func TestParseMirrorVdevWithDisks(t *testing.T) {
	assert := newAsserter(t)

	out := "NAME      SIZE  ALLOC   FREE  EXPANDSZ   FRAG    CAP  DEDUP  HEALTH  ALTROOT\n" +
		"tank      200G    80G   120G         -     5%    40%  1.00x  ONLINE  -\n" +
		"  mirror  200G    80G   120G         -     5%      -      -       -  -\n" +
		"    sda   200G    80G   120G         -     5%      -      -       -  -\n" +
		"    sdb   200G    80G   120G         -     5%      -      -       -  -\n"

	pools := Parse(out)
	assert(len(pools) == 1, "expected 1 pool, got %d", len(pools))
	p := pools[0]
	assert(len(p.Vdevs) == 1, "expected 1 vdev, got %d", len(p.Vdevs))
	v := p.Vdevs[0]
	assert(v.Name == "mirror", "unexpected vdev name %s", v.Name)
	assert(len(v.Disks) == 2, "expected 2 disks in mirror, got %d", len(v.Disks))
	assert(v.Disks[0].Name == "sda" && v.Disks[1].Name == "sdb", "unexpected disk names %v", v.Disks)
}

func TestParseMultiplePools(t *testing.T) {
	assert := newAsserter(t)

	out := "NAME   SIZE  ALLOC   FREE  EXPANDSZ   FRAG    CAP  DEDUP  HEALTH  ALTROOT\n" +
		"tank   100G    40G    60G         -     3%    40%  1.00x  ONLINE  -\n" +
		"  sda  100G    40G    60G         -     3%      -      -       -  -\n" +
		"rpool   50G    10G    40G         -     1%    20%  1.00x  ONLINE  -\n" +
		"  sdb   50G    10G    40G         -     1%      -      -       -  -\n"

	pools := Parse(out)
	assert(len(pools) == 2, "expected 2 pools, got %d", len(pools))
	assert(pools[0].Name == "tank", "unexpected first pool name %s", pools[0].Name)
	assert(pools[1].Name == "rpool", "unexpected second pool name %s", pools[1].Name)
}

func TestParseEmptyOutput(t *testing.T) {
	assert := newAsserter(t)
	pools := Parse("NAME  SIZE  ALLOC  FREE  EXPANDSZ  FRAG  CAP  DEDUP  HEALTH  ALTROOT\n")
	assert(len(pools) == 0, "expected no pools from header-only output, got %d", len(pools))
}
