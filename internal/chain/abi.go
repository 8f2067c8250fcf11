package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// marketABIJSON describes the prediction market contract surface this module
// reads and writes.
const marketABIJSON = `[
	{"type":"function","name":"marketCount","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"createMarket","stateMutability":"nonpayable",
	 "inputs":[{"name":"_question","type":"string"},{"name":"_outcomes","type":"string[]"},{"name":"_deadline","type":"uint256"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getMarketBasic","stateMutability":"view",
	 "inputs":[{"name":"marketId","type":"uint256"}],
	 "outputs":[
		{"name":"owner","type":"address"},
		{"name":"question","type":"string"},
		{"name":"deadline","type":"uint256"},
		{"name":"resolved","type":"bool"},
		{"name":"winningOutcome","type":"uint256"},
		{"name":"totalStaked","type":"uint256"},
		{"name":"outcomeStakes","type":"uint256[]"},
		{"name":"outcomes","type":"string[]"}]},
	{"type":"function","name":"placeBet","stateMutability":"payable",
	 "inputs":[{"name":"marketId","type":"uint256"},{"name":"outcome","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"resolveMarket","stateMutability":"nonpayable",
	 "inputs":[{"name":"marketId","type":"uint256"},{"name":"winningOutcome","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"claim","stateMutability":"nonpayable",
	 "inputs":[{"name":"marketId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"userStakeIn","stateMutability":"view",
	 "inputs":[{"name":"marketId","type":"uint256"},{"name":"user","type":"address"},{"name":"outcome","type":"uint256"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"MarketCreated","anonymous":false,"inputs":[
		{"indexed":true,"name":"marketId","type":"uint256"},
		{"indexed":true,"name":"owner","type":"address"},
		{"indexed":false,"name":"question","type":"string"},
		{"indexed":false,"name":"outcomes","type":"string[]"},
		{"indexed":false,"name":"deadline","type":"uint256"}]},
	{"type":"event","name":"BetPlaced","anonymous":false,"inputs":[
		{"indexed":true,"name":"marketId","type":"uint256"},
		{"indexed":true,"name":"bettor","type":"address"},
		{"indexed":true,"name":"outcome","type":"uint256"},
		{"indexed":false,"name":"amount","type":"uint256"}]},
	{"type":"event","name":"MarketResolved","anonymous":false,"inputs":[
		{"indexed":true,"name":"marketId","type":"uint256"},
		{"indexed":false,"name":"winningOutcome","type":"uint256"}]},
	{"type":"event","name":"PayoutClaimed","anonymous":false,"inputs":[
		{"indexed":true,"name":"marketId","type":"uint256"},
		{"indexed":true,"name":"claimer","type":"address"},
		{"indexed":false,"name":"amount","type":"uint256"}]}
]`

// MarketABI is the parsed contract ABI.
var MarketABI abi.ABI

func init() {
	var err error
	MarketABI, err = abi.JSON(strings.NewReader(marketABIJSON))
	if err != nil {
		panic("chain: parse market ABI: " + err.Error())
	}
}
