// Copyright 2025 Poiesic Systems
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


// Package search finds cached images from a text query.
//
// Every cache entry keeps the description it was embedded from, so a query
// can be scored two ways:
//   - Semantic similarity between the query embedding and the entry embedding
//   - Verbatim keyword matching against the description, with stop-word filtering
//
// Hits are ranked by a score that combines both signals.
package search
