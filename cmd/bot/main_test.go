package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToSetReturnsNilForEmptyInput(t *testing.T) {
	require.Nil(t, toSet(nil))
	require.Nil(t, toSet([]string{}))
}

func TestToSetBuildsMembershipMap(t *testing.T) {
	set := toSet([]string{"BTCTRY", "ETHTRY"})
	require.True(t, set["BTCTRY"])
	require.True(t, set["ETHTRY"])
	require.False(t, set["XRPTRY"])
}
