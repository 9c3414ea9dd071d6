package gates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChecker(t *testing.T) (*Checker, string) {
	t.Helper()
	dir := t.TempDir()
	return &Checker{
		CameraDevice: filepath.Join(dir, "video0"),
		ThermalPath:  filepath.Join(dir, "temp"),
		BatteryPath:  filepath.Join(dir, "capacity"),
	}, dir
}

func TestCameraPresent(t *testing.T) {
	c, dir := testChecker(t)

	r := c.CameraPresent()
	assert.False(t, r.OK)
	assert.Contains(t, r.Reason, "Camera device missing")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "video0"), nil, 0o644))
	r = c.CameraPresent()
	assert.True(t, r.OK)
	assert.Empty(t, r.Reason)
}

func TestCameraPresentSimulated(t *testing.T) {
	c, _ := testChecker(t)
	c.SimulateCamera = true

	r := c.CameraPresent()
	assert.True(t, r.OK)
	assert.Contains(t, r.Reason, "simulate mode")
}

func TestStorageWritable(t *testing.T) {
	c, dir := testChecker(t)

	r := c.StorageWritable(filepath.Join(dir, "recordings"))
	assert.True(t, r.OK)

	// probe file must not be left behind
	entries, err := os.ReadDir(filepath.Join(dir, "recordings"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFreeSpaceAgainstRealFilesystem(t *testing.T) {
	c, dir := testChecker(t)

	r := c.FreeSpace(dir, 0.001)
	assert.True(t, r.OK)

	r = c.FreeSpace(dir, 1e9)
	assert.False(t, r.OK)
	assert.Contains(t, r.Reason, "Low disk")
}

func TestTemperatureSafe(t *testing.T) {
	c, dir := testChecker(t)
	thermal := filepath.Join(dir, "temp")

	// absent sensor passes with an informational reason
	r := c.TemperatureSafe()
	assert.True(t, r.OK)
	assert.Equal(t, "Temperature sensor unavailable", r.Reason)

	require.NoError(t, os.WriteFile(thermal, []byte("55123\n"), 0o644))
	r = c.TemperatureSafe()
	assert.True(t, r.OK)
	assert.Empty(t, r.Reason)

	require.NoError(t, os.WriteFile(thermal, []byte("85000\n"), 0o644))
	r = c.TemperatureSafe()
	assert.False(t, r.OK)
	assert.Contains(t, r.Reason, "Overheating")

	require.NoError(t, os.WriteFile(thermal, []byte("garbage\n"), 0o644))
	r = c.TemperatureSafe()
	assert.False(t, r.OK)
	assert.Equal(t, "Temperature read failed", r.Reason)
}

func TestBatterySafe(t *testing.T) {
	c, dir := testChecker(t)
	battery := filepath.Join(dir, "capacity")

	r := c.BatterySafe()
	assert.True(t, r.OK)
	assert.Equal(t, "Battery sensor unavailable", r.Reason)

	require.NoError(t, os.WriteFile(battery, []byte("87\n"), 0o644))
	r = c.BatterySafe()
	assert.True(t, r.OK)

	// 10 percent is already critical
	require.NoError(t, os.WriteFile(battery, []byte("10\n"), 0o644))
	r = c.BatterySafe()
	assert.False(t, r.OK)
	assert.Contains(t, r.Reason, "Battery critically low: 10%")
}

func TestAllOrderAndAggregation(t *testing.T) {
	c, dir := testChecker(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video0"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "temp"), []byte("50000"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "capacity"), []byte("95"), 0o644))

	reports := c.All(dir, 0.001)
	require.Len(t, reports, 5)

	names := make([]string, 0, len(reports))
	for _, r := range reports {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"camera", "storage", "space", "temperature", "battery"}, names)
	assert.True(t, AllOK(reports))
	assert.Empty(t, FailureReasons(reports))
}

func TestFailureReasonsJoined(t *testing.T) {
	c, dir := testChecker(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "capacity"), []byte("5"), 0o644))

	reports := c.All(dir, 0.001)
	assert.False(t, AllOK(reports))

	reasons := FailureReasons(reports)
	assert.Contains(t, reasons, "Camera device missing")
	assert.Contains(t, reasons, "Battery critically low")
	assert.Contains(t, reasons, "; ")
}

func TestSensorReaders(t *testing.T) {
	c, dir := testChecker(t)

	assert.Nil(t, c.ReadTemperatureC())
	assert.Nil(t, c.ReadBatteryPercent())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "temp"), []byte("61250\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "capacity"), []byte("42\n"), 0o644))

	temp := c.ReadTemperatureC()
	require.NotNil(t, temp)
	assert.InDelta(t, 61.25, *temp, 0.001)

	pct := c.ReadBatteryPercent()
	require.NotNil(t, pct)
	assert.Equal(t, 42, *pct)
}
