//go:build !linux

package tunnel

var platformTuner KeepaliveTuner = noopTuner{}
