// Copyright 2026 Socratic Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package gateway

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	tokenEncoder     *tiktoken.Tiktoken
	tokenEncoderOnce sync.Once
	tokenEncoderMu   sync.Mutex
)

// EstimateTokens counts tokens with the cl100k_base encoding, a reasonable
// cross-model approximation for providers that don't report usage. Falls
// back to a character heuristic if the encoding cannot be loaded.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	tokenEncoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			tokenEncoder = enc
		}
	})

	if tokenEncoder == nil {
		return len(text) / 4
	}

	tokenEncoderMu.Lock()
	defer tokenEncoderMu.Unlock()
	return len(tokenEncoder.Encode(text, nil, nil))
}
