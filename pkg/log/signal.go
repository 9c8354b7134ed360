// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"os"
	"os/signal"

	"k8s.io/klog/v2"
)

var (
	sigCh   chan os.Signal
	saveMap srcmap
)

// Flush flushes any buffered log messages.
func Flush() {
	klog.Flush()
}

// SetupDebugToggleSignal sets up a signal handler which toggles full
// debugging on and off. Turning it off restores the previous per-source
// debug settings.
func SetupDebugToggleSignal(sig os.Signal) {
	ClearDebugToggleSignal()

	sigCh = make(chan os.Signal, 1)
	signal.Notify(sigCh, sig)

	go func(ch chan os.Signal) {
		for range ch {
			toggleDebug()
		}
	}(sigCh)
}

// ClearDebugToggleSignal removes any debug toggle signal handler.
func ClearDebugToggleSignal() {
	if sigCh == nil {
		return
	}
	signal.Stop(sigCh)
	close(sigCh)
	sigCh = nil
}

func toggleDebug() {
	log.Lock()
	on := saveMap == nil
	if on {
		saveMap = log.dbgmap
		log.dbgmap = srcmap{"*": true}
	} else {
		log.dbgmap = saveMap
		saveMap = nil
	}
	log.Unlock()

	if on {
		deflog.Warn("full debugging toggled on")
	} else {
		deflog.Warn("full debugging toggled off")
	}
}
