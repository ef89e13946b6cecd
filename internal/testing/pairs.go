package testing

// PairUserIDs splits a userIDs slice into pairs anchored on the first id,
// e.g. [0, 1, 2, 3] -> [[0,1], [0,2], [0,3]]. Used to exercise conversation
// provisioning for many pairs sharing a user.
func PairUserIDs(userIDs []int64) [][]int64 {
	pairs := make([][]int64, 0, len(userIDs)-1)
	for i := 1; i < len(userIDs); i++ {
		pairs = append(pairs, []int64{userIDs[0], userIDs[i]})
	}

	return pairs
}

// ReverseIDs reverses provided ids. Conversation resolution must be
// insensitive to argument order, so tests run each pair both ways.
func ReverseIDs(ids []int64) []int64 {
	reversed := make([]int64, len(ids))
	copy(reversed, ids)

	for i := len(reversed)/2 - 1; i >= 0; i-- {
		opp := len(reversed) - 1 - i
		reversed[i], reversed[opp] = reversed[opp], reversed[i]
	}

	return reversed
}
