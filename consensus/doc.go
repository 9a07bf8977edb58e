// Package consensus implements a fan-out vote across a set of agents.
//
// Each agent is asked the same question concurrently and answers with a
// structured vote (choice, reasoning, confidence). Agents whose call fails
// or whose answer cannot be parsed are dropped from the round; the surviving
// votes are tallied by exact choice string.
//
// Tie-break: among choices sharing the highest count, the winner is the one
// whose first vote appears earliest, with votes ordered by the position of
// their agent in the agent set. The policy is deterministic but arbitrary;
// it does not pick a "better" answer.
package consensus
