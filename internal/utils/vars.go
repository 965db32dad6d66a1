package utils

import "regexp"

const (
	ToolUserAgent = "MyDM/1.0"
	TempDirName   = ".mydm-temp"

	DefaultThreads          = 8
	DefaultMaxWorkers       = 32
	DefaultSegmentThreshold = 1024 * 1024 // 1 MiB
	DefaultChunkSize        = 32 * 1024   // 32 KiB
	DefaultMaxRetries       = 5
	DefaultMaxFrameSize     = 1024 * 1024

	socketBufferSize = 1024 * 1024
)

var (
	// reserved on at least one of the platforms the browser runs on
	reservedCharsRegex = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\x7f]+`)
	windowsDeviceRegex = regexp.MustCompile(`(?i)^(con|prn|aux|nul|com[0-9]|lpt[0-9])(\..*)?$`)
)
