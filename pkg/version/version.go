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

package version

import (
	"runtime/debug"
)

// Version and Build are set at link time using -ldflags -X. Unless they
// are, they are filled in from the build info embedded in the binary.
var (
	Version = "unknown"
	Build   = "unknown"
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	if Version == "unknown" && info.Main.Version != "" {
		Version = info.Main.Version
	}

	if Build == "unknown" {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				Build = s.Value
				break
			}
		}
	}
}
