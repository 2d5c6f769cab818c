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

// socbench is the weekly Socratic-tutoring benchmark: it plans run
// manifests, drives tutor/student dialogues against LLM providers, scores
// every turn with an LLM judge, and curates the results into weekly
// leaderboards.
package main

func main() {
	Execute()
}
