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

package libheap

import "fmt"

var (
	ErrFailedOption     = fmt.Errorf("libheap: failed to apply option")
	ErrInvalidProvider  = fmt.Errorf("libheap: invalid provider")
	ErrInvalidSize      = fmt.Errorf("libheap: invalid allocation size")
	ErrInvalidAlignment = fmt.Errorf("libheap: invalid alignment")
	ErrInvalidFrame     = fmt.Errorf("libheap: invalid frame index")
	ErrClosed           = fmt.Errorf("libheap: cache closed")
	ErrNotMapped        = fmt.Errorf("libheap: backing is not host mapped")
	ErrTooLarge         = fmt.Errorf("libheap: data does not fit allocation")
	ErrReleased         = fmt.Errorf("libheap: handle already released")
	ErrInternalError    = fmt.Errorf("libheap: internal error")
)
