package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/bsv-blockchain/tokencache/model"
	"github.com/bsv-blockchain/tokencache/services/identity"
	"github.com/bsv-blockchain/tokencache/stores/tokencache"
	"github.com/labstack/echo/v4"
)

type holderJSON struct {
	// Kind is one of type-only, public-key, account or unmapped.
	Kind  string `json:"kind"`
	Value string `json:"value,omitempty"`
}

type amountJSON struct {
	Quantity       uint64 `json:"quantity"`
	Class          string `json:"class"`
	Identifier     string `json:"identifier"`
	FractionDigits uint8  `json:"fractionDigits"`
	Issuer         string `json:"issuer,omitempty"`
}

type selectRequest struct {
	Holder         holderJSON `json:"holder"`
	Amount         amountJSON `json:"amount"`
	AllowShortfall bool       `json:"allowShortfall"`
	// AutoUnlockDelay is a Go duration, e.g. "30s".
	AutoUnlockDelay string `json:"autoUnlockDelay,omitempty"`
	SelectionID     string `json:"selectionId,omitempty"`
	Strategy        string `json:"strategy,omitempty"`
}

type selectionResponse struct {
	SelectionID string               `json:"selectionId"`
	Records     []*model.TokenRecord `json:"records"`
	Total       uint64               `json:"total"`
}

type locksRequest struct {
	IDs             []model.RecordID `json:"ids"`
	SelectionID     string           `json:"selectionId"`
	AutoUnlockDelay string           `json:"autoUnlockDelay,omitempty"`
}

type releaseRequest struct {
	SelectionID string `json:"selectionId"`
}

type releasedResponse struct {
	Released int `json:"released"`
}

type lockedResponse struct {
	SelectionID string `json:"selectionId"`
	Locked      int    `json:"locked"`
}

type balanceResponse struct {
	Total     uint64 `json:"total"`
	Available uint64 `json:"available"`
}

type recordResponse struct {
	Record   *model.TokenRecord `json:"record"`
	LockedBy string             `json:"lockedBy,omitempty"`
}

func parseHolder(holder holderJSON) (model.HolderKey, error) {
	switch holder.Kind {
	case "", model.HolderTypeOnly.String():
		return model.TypeOnlyHolder(), nil
	case model.HolderPublicKey.String(), model.HolderUnmapped.String():
		publicKey, err := identity.NormalizePublicKey(holder.Value)
		if err != nil {
			return model.HolderKey{}, err
		}

		if holder.Kind == model.HolderUnmapped.String() {
			return model.UnmappedHolder(publicKey), nil
		}

		return model.PublicKeyHolder(publicKey), nil
	case model.HolderAccount.String():
		if holder.Value == "" {
			return model.HolderKey{}, errors.NewInvalidArgumentError("account holder needs an account id")
		}

		return model.AccountHolder(holder.Value), nil
	default:
		return model.HolderKey{}, errors.NewInvalidArgumentError("unknown holder kind %q", holder.Kind)
	}
}

func parseDelay(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, errors.NewInvalidArgumentError("invalid autoUnlockDelay %q", s, err)
	}

	return d, nil
}

func (h *HTTP) respond(c echo.Context, function string, start time.Time, body interface{}) error {
	prometheusHTTPDuration.WithLabelValues(function).Observe(time.Since(start).Seconds())
	prometheusHTTPRequests.WithLabelValues(function, strconv.Itoa(http.StatusOK)).Inc()

	return c.JSON(http.StatusOK, body)
}

func (h *HTTP) fail(c echo.Context, function string, start time.Time, err error) error {
	status, _ := statusFor(err)

	prometheusHTTPDuration.WithLabelValues(function).Observe(time.Since(start).Seconds())
	prometheusHTTPRequests.WithLabelValues(function, strconv.Itoa(status)).Inc()

	if status >= http.StatusInternalServerError {
		h.logger.Errorf("[HTTP] %s failed: %v", function, err)
	} else {
		h.logger.Debugf("[HTTP] %s rejected: %v", function, err)
	}

	return sendError(c, err)
}

// Select locks records covering the requested amount.
func (h *HTTP) Select(c echo.Context) error {
	start := time.Now()

	var req selectRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, "Select", start, errors.NewInvalidArgumentError("invalid select request", err))
	}

	holder, err := parseHolder(req.Holder)
	if err != nil {
		return h.fail(c, "Select", start, err)
	}

	delay, err := parseDelay(req.AutoUnlockDelay)
	if err != nil {
		return h.fail(c, "Select", start, err)
	}

	selection, err := h.cache.Select(c.Request().Context(), tokencache.SelectRequest{
		Holder: holder,
		Amount: model.Amount{
			Quantity: req.Amount.Quantity,
			Type: model.ValueType{
				Class:          req.Amount.Class,
				Identifier:     req.Amount.Identifier,
				FractionDigits: req.Amount.FractionDigits,
			},
			Issuer: req.Amount.Issuer,
		},
		AllowShortfall:  req.AllowShortfall,
		AutoUnlockDelay: delay,
		SelectionID:     req.SelectionID,
		Strategy:        tokencache.Strategy(req.Strategy),
	})
	if err != nil {
		return h.fail(c, "Select", start, err)
	}

	return h.respond(c, "Select", start, selectionResponse{
		SelectionID: selection.ID,
		Records:     selection.Records,
		Total:       selection.Total,
	})
}

// Unlock releases the given records of a selection.
func (h *HTTP) Unlock(c echo.Context) error {
	start := time.Now()

	var req locksRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, "Unlock", start, errors.NewInvalidArgumentError("invalid unlock request", err))
	}

	if req.SelectionID == "" {
		return h.fail(c, "Unlock", start, errors.NewInvalidArgumentError("selectionId is required"))
	}

	return h.respond(c, "Unlock", start, releasedResponse{Released: h.cache.Unlock(req.IDs, req.SelectionID)})
}

// Lock locks records chosen by the caller, all or nothing.
func (h *HTTP) Lock(c echo.Context) error {
	start := time.Now()

	var req locksRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, "Lock", start, errors.NewInvalidArgumentError("invalid lock request", err))
	}

	delay, err := parseDelay(req.AutoUnlockDelay)
	if err != nil {
		return h.fail(c, "Lock", start, err)
	}

	if err = h.cache.LockExternal(req.IDs, req.SelectionID, delay); err != nil {
		return h.fail(c, "Lock", start, err)
	}

	return h.respond(c, "Lock", start, lockedResponse{SelectionID: req.SelectionID, Locked: len(req.IDs)})
}

// Release unlocks everything a selection holds.
func (h *HTTP) Release(c echo.Context) error {
	start := time.Now()

	var req releaseRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, "Release", start, errors.NewInvalidArgumentError("invalid release request", err))
	}

	if req.SelectionID == "" {
		return h.fail(c, "Release", start, errors.NewInvalidArgumentError("selectionId is required"))
	}

	return h.respond(c, "Release", start, releasedResponse{Released: h.cache.ReleaseSelection(req.SelectionID)})
}

// Balance sums a holder's records of one value type:
// ?kind=&holder=&class=&identifier=&fractionDigits=&issuer=
func (h *HTTP) Balance(c echo.Context) error {
	start := time.Now()

	holder, err := parseHolder(holderJSON{Kind: c.QueryParam("kind"), Value: c.QueryParam("holder")})
	if err != nil {
		return h.fail(c, "Balance", start, err)
	}

	var fractionDigits uint64

	if s := c.QueryParam("fractionDigits"); s != "" {
		if fractionDigits, err = strconv.ParseUint(s, 10, 8); err != nil {
			return h.fail(c, "Balance", start, errors.NewInvalidArgumentError("invalid fractionDigits %q", s, err))
		}
	}

	valueType := model.ValueType{
		Class:          c.QueryParam("class"),
		Identifier:     c.QueryParam("identifier"),
		FractionDigits: uint8(fractionDigits),
	}

	total, available, err := h.cache.Balance(c.Request().Context(), holder, valueType, c.QueryParam("issuer"))
	if err != nil {
		return h.fail(c, "Balance", start, err)
	}

	return h.respond(c, "Balance", start, balanceResponse{Total: total, Available: available})
}

// GetRecord returns a cached record and the selection holding it.
func (h *HTTP) GetRecord(c echo.Context) error {
	start := time.Now()

	id, err := model.RecordIDFromString(c.Param("id"))
	if err != nil {
		return h.fail(c, "GetRecord", start, errors.NewInvalidArgumentError("invalid record id %q", c.Param("id"), err))
	}

	record, ok := h.cache.Get(id)
	if !ok {
		return h.fail(c, "GetRecord", start, errors.NewNotFoundError("record %s is not cached", id))
	}

	lockedBy, _ := h.cache.LockedBy(id)

	return h.respond(c, "GetRecord", start, recordResponse{Record: record, LockedBy: lockedBy})
}

func (h *HTTP) Stats(c echo.Context) error {
	return h.respond(c, "Stats", time.Now(), h.cache.Stats())
}
