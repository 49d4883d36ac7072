package cdp

import (
	_ "embed"
	"strings"
)

// BindingName 页面向宿主上报信号使用的绑定函数名
const BindingName = "evtrackSignal"

//go:embed capture.js
var captureJS string

// CaptureScript 返回注入页面的采集脚本
func CaptureScript(binding string) string {
	if binding == "" {
		binding = BindingName
	}
	return strings.ReplaceAll(captureJS, "__EVTRACK_BINDING__", binding)
}
