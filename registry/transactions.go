package registry

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/pkg/errors"
)

var queryAllTransient = map[string][]byte{"QueryOutput": []byte("all")}

var certOwnerRe = regexp.MustCompile(`x509::/OU=(admin|client)/CN=(.*)::`)

// Ledger is the subset of the ledger proxy the registry needs.
type Ledger interface {
	Evaluate(ctx context.Context, fn string, args []string, walletKey string) ([]byte, error)
	EvaluateWithTransient(ctx context.Context, fn string, args []string, transient map[string][]byte, walletKey string) ([]byte, error)
	Submit(ctx context.Context, fn string, args []string, walletKey string) error
}

type Car struct {
	Color     string `json:"color"`
	Make      string `json:"make"`
	Model     string `json:"model"`
	Owner     string `json:"owner"`
	CertOwner string `json:"certOwner"`
}

type Vehicle struct {
	Key string `json:"key"`
	Car Car    `json:"car"`
}

// VehicleOwner is one entry of a vehicle's ownership history, times in epoch millis.
type VehicleOwner struct {
	Owner string `json:"owner"`
	From  int64  `json:"from"`
	To    *int64 `json:"to,omitempty"`
}

type previousOwners struct {
	PreviousOwnerCount           int      `json:"previousOwnerCount"`
	PreviousOwners               []string `json:"previousOwners"`
	PreviousOwnershipChangeDates []string `json:"previousOwnershipChangeDates"`
	CurrentOwner                 string   `json:"currentOwner"`
	CurrentOwnershipChangeDate   string   `json:"currentOwnershipChangeDate"`
}

// Transactions runs the DriveNet chaincode functions as one wallet identity.
type Transactions struct {
	walletKey string
	ledger    Ledger
}

func New(walletKey string, ledger Ledger) *Transactions {
	return &Transactions{
		walletKey: walletKey,
		ledger:    ledger,
	}
}

func (t *Transactions) CreateVehicle(ctx context.Context, carNumber, carMake, model, colour, owner string) error {
	return t.ledger.Submit(ctx, "createCar", []string{carNumber, carMake, model, colour, owner}, t.walletKey)
}

func (t *Transactions) DeleteVehicle(ctx context.Context, carNumber string) error {
	return t.ledger.Submit(ctx, "deleteCar", []string{carNumber}, t.walletKey)
}

func (t *Transactions) ChangeOwner(ctx context.Context, carNumber string, owner string) error {
	return t.ledger.Submit(ctx, "changeCarOwner", []string{carNumber, owner}, t.walletKey)
}

func (t *Transactions) ConfirmOwner(ctx context.Context, carNumber string) error {
	return t.ledger.Submit(ctx, "confirmTransfer", []string{carNumber}, t.walletKey)
}

func (t *Transactions) CallerVehicles(ctx context.Context) ([]Vehicle, error) {
	return t.queryVehicles(ctx, "findMyCars", []string{})
}

func (t *Transactions) AllVehicles(ctx context.Context) ([]Vehicle, error) {
	return t.queryVehicles(ctx, "queryAllCars", []string{})
}

func (t *Transactions) VehiclesByOwner(ctx context.Context, owner string) ([]Vehicle, error) {
	return t.queryVehicles(ctx, "queryByOwner", []string{owner})
}

func (t *Transactions) PreviousOwners(ctx context.Context, carNumber string) ([]VehicleOwner, error) {
	payload, err := t.ledger.Evaluate(ctx, "getPreviousOwners", []string{carNumber}, t.walletKey)
	if err != nil {
		return nil, err
	}
	history := previousOwners{}
	if err := json.Unmarshal(payload, &history); err != nil {
		return nil, errors.Wrap(err, "malformed ownership history")
	}
	return formatPreviousOwners(history)
}

func (t *Transactions) queryVehicles(ctx context.Context, fn string, args []string) ([]Vehicle, error) {
	payload, err := t.ledger.EvaluateWithTransient(ctx, fn, args, queryAllTransient, t.walletKey)
	if err != nil {
		return nil, err
	}
	vehicles := []Vehicle{}
	if err := json.Unmarshal(payload, &vehicles); err != nil {
		return nil, errors.Wrapf(err, "malformed %s response", fn)
	}
	return formatVehicles(vehicles), nil
}

// formatVehicles replaces x509 certificate owners with their common name.
func formatVehicles(vehicles []Vehicle) []Vehicle {
	for i := range vehicles {
		if m := certOwnerRe.FindStringSubmatch(vehicles[i].Car.CertOwner); m != nil {
			vehicles[i].Car.CertOwner = m[2]
		}
	}
	return vehicles
}

func formatPreviousOwners(history previousOwners) ([]VehicleOwner, error) {
	current, err := parseChangeDate(history.CurrentOwnershipChangeDate)
	if err != nil {
		return nil, err
	}
	if len(history.PreviousOwnershipChangeDates) < len(history.PreviousOwners) {
		return nil, errors.Errorf("ownership history lists %d owners but %d change dates",
			len(history.PreviousOwners), len(history.PreviousOwnershipChangeDates))
	}
	owners := make([]VehicleOwner, 0, len(history.PreviousOwners)+1)
	owners = append(owners, VehicleOwner{
		Owner: history.CurrentOwner,
		From:  current,
	})
	to := current
	for i, owner := range history.PreviousOwners {
		from, err := parseChangeDate(history.PreviousOwnershipChangeDates[i])
		if err != nil {
			return nil, err
		}
		end := to
		owners = append(owners, VehicleOwner{
			Owner: owner,
			From:  from,
			To:    &end,
		})
		to = from
	}
	return owners, nil
}

// jsDateLayout matches the prefix of JavaScript's Date.toString().
const jsDateLayout = "Mon Jan 02 2006 15:04:05 GMT-0700"

var changeDateLayouts = []string{
	time.RFC3339Nano,
	jsDateLayout,
	time.RFC1123Z,
	time.RFC1123,
}

func parseChangeDate(value string) (int64, error) {
	for _, layout := range changeDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UnixMilli(), nil
		}
	}
	// Date.toString() appends the zone name, e.g. " (Coordinated Universal Time)".
	if len(value) > len(jsDateLayout) {
		if t, err := time.Parse(jsDateLayout, value[:len(jsDateLayout)]); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, errors.Errorf("invalid ownership change date %q", value)
}
