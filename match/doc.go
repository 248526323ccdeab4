// Package match pairs join items with base items by cosine similarity.
//
// Every join embedding is scored against every base embedding. Each join
// keeps its best TopN bases that reach MinSimilarity, and the result is
// regrouped per base. A base may collect several joins, so the output is not a
// one-to-one assignment; several photos of one product all land under it.
// Items that end up with no partner are reported as residue.
//
// Output is fully deterministic: ties are broken by identifier and every list
// in the result is sorted.
package match
