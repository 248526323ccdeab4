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


// Package ai provides abstractions for the external services imgmatch relies on.
//
// Matching needs two model calls per image: a vision model turns the image
// into a description, and an embedding model turns the description into a
// vector. The package defines one interface for each:
//
//   - Describer: describes an image in text
//   - Embedder: generates vector embeddings from text
//   - AIProvider: aggregates both for initialization and shutdown
//
// # Implementation Packages
//
//   - ai/openai: production implementation using OpenAI-compatible APIs
//   - ai/mock: test doubles for unit testing without external dependencies
//
// # Constructor Return Types
//
// Public constructors (openai.NewProvider, openai.NewEmbedder, etc.) return
// interface types. Mock constructors (mock.NewMockEmbedder,
// mock.NewMockDescriber) return concrete types so tests can inject behavior
// and check call counts.
//
//	provider, err := openai.NewProvider(ai.NewConfig(ai.WithHost("http://localhost:11434")))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	text, err := provider.Describer().DescribeImage(ctx, imageBytes, "image/jpeg")
//	vector, err := provider.Embedder().EmbedText(ctx, text)
package ai
