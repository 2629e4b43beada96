package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	cmtbytes "github.com/cometbft/cometbft/libs/bytes"
	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	rpccoretypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/sirupsen/logrus"

	"vote-aggregator/internal/logger"
	"vote-aggregator/internal/models"
)

// ABCI response codes of the subject program.
const (
	CodeOK           uint32 = 0
	CodeNotFound     uint32 = 4
	CodeStaleState   uint32 = 7
	CodeUnauthorized uint32 = 9
)

const (
	pathSubjectState = "/subject/state"
	pathVoterStake   = "/voter/stake"
)

// rpcClient is the subset of the CometBFT RPC client the adapter uses.
type rpcClient interface {
	ABCIQuery(ctx context.Context, path string, data cmtbytes.HexBytes) (*rpccoretypes.ResultABCIQuery, error)
	BroadcastTxSync(ctx context.Context, tx cmttypes.Tx) (*rpccoretypes.ResultBroadcastTx, error)
	Status(ctx context.Context) (*rpccoretypes.ResultStatus, error)
}

// CometClient talks to the subject program through a CometBFT node.
type CometClient struct {
	rpc         rpcClient
	signer      *Signer
	callTimeout time.Duration
	log         logrus.FieldLogger
}

// NodeStatus is what /healthz and /stats report about the node.
type NodeStatus struct {
	Network      string    `json:"network"`
	LatestHeight int64     `json:"latestHeight"`
	LatestTime   time.Time `json:"latestTime"`
	CatchingUp   bool      `json:"catchingUp"`
}

// NewCometClient dials rpcURL over HTTP. wsPath is the websocket endpoint
// path the client needs for subscriptions.
func NewCometClient(rpcURL, wsPath string, signer *Signer, callTimeout time.Duration, log logrus.FieldLogger) (*CometClient, error) {
	c, err := rpchttp.New(rpcURL, wsPath)
	if err != nil {
		return nil, fmt.Errorf("create rpc client: %w", err)
	}
	return newCometClient(c, signer, callTimeout, log), nil
}

func newCometClient(rpc rpcClient, signer *Signer, callTimeout time.Duration, log logrus.FieldLogger) *CometClient {
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	return &CometClient{
		rpc:         rpc,
		signer:      signer,
		callTimeout: callTimeout,
		log:         logger.Or(log).WithField("component", "ledger"),
	}
}

func (c *CometClient) DeriveSubjectAddress(subject models.Subject) (string, error) {
	return DeriveSubjectAddress(subject)
}

type stateResponse struct {
	Status string `json:"status"`
	Height int64  `json:"height"`
}

func (c *CometClient) FetchState(ctx context.Context, subject models.Subject) (SubjectState, error) {
	addr, err := c.DeriveSubjectAddress(subject)
	if err != nil {
		return SubjectState{}, &Error{Kind: KindNotFound, Err: err}
	}
	raw, err := decodeAddress(addr)
	if err != nil {
		return SubjectState{}, &Error{Kind: KindNotFound, Err: err}
	}

	value, height, err := c.query(ctx, pathSubjectState, raw)
	if err != nil {
		return SubjectState{}, err
	}
	var resp stateResponse
	if err := json.Unmarshal(value, &resp); err != nil {
		return SubjectState{}, &Error{Kind: KindRejected, Log: "malformed subject state", Err: err}
	}
	if resp.Height == 0 {
		resp.Height = height
	}
	return SubjectState{Address: addr, Status: normalizeStatus(resp.Status), Height: resp.Height}, nil
}

func (c *CometClient) SubmitTransition(ctx context.Context, subject models.Subject, decision models.Decision) (Receipt, error) {
	if c.signer == nil {
		return Receipt{}, &Error{Kind: KindRejected, Log: "no signer configured"}
	}
	action, err := ActionFor(subject.Type, decision.Outcome)
	if err != nil {
		return Receipt{}, &Error{Kind: KindRejected, Err: err}
	}
	addr, err := c.DeriveSubjectAddress(subject)
	if err != nil {
		return Receipt{}, &Error{Kind: KindRejected, Err: err}
	}
	tx, err := c.signer.Sign(Transition{
		Action:        action,
		SubjectType:   string(subject.Type),
		SubjectID:     subject.ID,
		Address:       addr,
		ApproveWeight: decision.ApproveWeight,
		RejectWeight:  decision.RejectWeight,
		TotalVoters:   decision.TotalVoters,
	})
	if err != nil {
		return Receipt{}, &Error{Kind: KindRejected, Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	res, err := c.rpc.BroadcastTxSync(callCtx, tx)
	if err != nil {
		return Receipt{}, classifyTransport(err)
	}
	switch res.Code {
	case CodeOK:
	case CodeStaleState:
		return Receipt{}, &Error{Kind: KindStaleState, Code: res.Code, Log: res.Log}
	default:
		if isCongestion(res.Log) {
			return Receipt{}, &Error{Kind: KindCongestion, Code: res.Code, Log: res.Log}
		}
		return Receipt{}, &Error{Kind: KindRejected, Code: res.Code, Log: res.Log}
	}

	hash := res.Hash.String()
	c.log.WithFields(logrus.Fields{
		"subject": subject.Key(),
		"action":  action,
		"tx_hash": hash,
	}).Debug("transition broadcast")
	return Receipt{TxHash: hash}, nil
}

type stakeResponse struct {
	Stake float64 `json:"stake"`
}

// Stake returns the voter's staked weight; absent accounts report zero.
func (c *CometClient) Stake(ctx context.Context, voterID string) (float64, error) {
	raw, err := decodeAddress(voterID)
	if err != nil {
		return 0, err
	}
	value, _, err := c.query(ctx, pathVoterStake, raw)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var resp stakeResponse
	if err := json.Unmarshal(value, &resp); err != nil {
		return 0, &Error{Kind: KindRejected, Log: "malformed stake", Err: err}
	}
	return resp.Stake, nil
}

// Status reports node reachability and its latest block.
func (c *CometClient) Status(ctx context.Context) (NodeStatus, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	st, err := c.rpc.Status(callCtx)
	if err != nil {
		return NodeStatus{}, classifyTransport(err)
	}
	return NodeStatus{
		Network:      st.NodeInfo.Network,
		LatestHeight: st.SyncInfo.LatestBlockHeight,
		LatestTime:   st.SyncInfo.LatestBlockTime,
		CatchingUp:   st.SyncInfo.CatchingUp,
	}, nil
}

func (c *CometClient) query(ctx context.Context, path string, data []byte) ([]byte, int64, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	res, err := c.rpc.ABCIQuery(callCtx, path, data)
	if err != nil {
		return nil, 0, classifyTransport(err)
	}
	resp := res.Response
	switch resp.Code {
	case CodeOK:
		return resp.Value, resp.Height, nil
	case CodeNotFound:
		return nil, 0, &Error{Kind: KindNotFound, Code: resp.Code, Log: resp.Log}
	default:
		return nil, 0, &Error{Kind: KindRejected, Code: resp.Code, Log: resp.Log}
	}
}

func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isCongestion(err.Error()) {
		return &Error{Kind: KindCongestion, Err: err}
	}
	return &Error{Kind: KindNetwork, Err: err}
}

func isCongestion(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "mempool is full") || strings.Contains(msg, "tx already exists in cache")
}
