package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleNodes = "" +
	"07c37dfeb235213a872192d90877d0cd55635b91 127.0.0.1:30004 slave e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca 0 1426238317239 4 connected\n" +
	"67ed2db8d677e59ec4a4cefb06858cf2a1a89fa1 127.0.0.1:30002 master - 0 1426238316232 2 connected 5461-10922\n" +
	"292f8b365bb7edb5e285caf0b7e6ddc7265d2f4f 127.0.0.1:30003 master - 0 1426238318243 3 connected 10923-16383\n" +
	"6ec23923021cf3ffec47632106199cb7f496ce01 127.0.0.1:30005 slave 67ed2db8d677e59ec4a4cefb06858cf2a1a89fa1 0 1426238316232 5 connected\n" +
	"e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca 127.0.0.1:30001 myself,master - 0 0 1 connected 0-5460\n"

func TestParseClusterNodes(t *testing.T) {
	ranges, err := ParseClusterNodes(sampleNodes)
	require.NoError(t, err)
	assert.Equal(t, []SlotRange{
		{Upper: 5461, Addr: Address{Host: "127.0.0.1", Port: 30001}},
		{Upper: 10923, Addr: Address{Host: "127.0.0.1", Port: 30002}},
		{Upper: 16384, Addr: Address{Host: "127.0.0.1", Port: 30003}},
	}, ranges)
}

func TestParseClusterNodesFiltersFailedMasters(t *testing.T) {
	text := "" +
		"aaaa 10.0.0.1:7000 master - 0 0 1 connected 0-8191\n" +
		"bbbb 10.0.0.2:7001 master,fail - 0 0 2 connected 8192-16383\n"
	ranges, err := ParseClusterNodes(text)
	require.NoError(t, err)
	assert.Equal(t, []SlotRange{
		{Upper: 8192, Addr: Address{Host: "10.0.0.1", Port: 7000}},
	}, ranges)
}

func TestParseClusterNodesSingleSlotsAndBrackets(t *testing.T) {
	text := "aaaa 10.0.0.1:7000@17000 myself,master - 0 0 1 connected " +
		"0 1 2-100 [101->-ffffffffffffffffffffffffffffffffffffffff]\n"
	ranges, err := ParseClusterNodes(text)
	require.NoError(t, err)
	// adjacent descriptors coalesce into one upper bound
	assert.Equal(t, []SlotRange{
		{Upper: 101, Addr: Address{Host: "10.0.0.1", Port: 7000}},
	}, ranges)
}

func TestParseClusterNodesCoalescesAcrossLines(t *testing.T) {
	text := "" +
		"aaaa 10.0.0.1:7000 master - 0 0 1 connected 8192-16383\n" +
		"bbbb 10.0.0.1:7000 master - 0 0 1 connected 0-8191\n"
	ranges, err := ParseClusterNodes(text)
	require.NoError(t, err)
	assert.Equal(t, []SlotRange{
		{Upper: 16384, Addr: Address{Host: "10.0.0.1", Port: 7000}},
	}, ranges)
}

func TestParseClusterNodesEmpty(t *testing.T) {
	_, err := ParseClusterNodes("aaaa 10.0.0.1:7000 slave bbbb 0 0 1 connected 0-16383\n")
	assert.Error(t, err)
	_, err = ParseClusterNodes("")
	assert.Error(t, err)
}
