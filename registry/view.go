package registry

import (
	"sort"
	"strconv"
	"strings"
)

type VehicleStatus string

const (
	StatusNoRelation         VehicleStatus = "no relation to user"
	StatusOwned              VehicleStatus = "owned"
	StatusAwaitingNewOwner   VehicleStatus = "awaiting new owner"
	StatusPendingCurrentUser VehicleStatus = "pending your confirmation"
)

const (
	carNumberPrefix = "CAR"
	// CAR0..CAR10 are seeded by the chaincode and never handed out.
	firstFreeCarNumber = 11
	lastCarNumber      = 9999
)

// VehicleDetails is a vehicle annotated with its relation to the viewing user.
type VehicleDetails struct {
	Vehicle
	Status VehicleStatus `json:"status"`
}

// Status derives how user relates to vehicle. CertOwner is the identity that
// holds the vehicle on the ledger, Owner the one it is being handed to.
func Status(vehicle Vehicle, user string) VehicleStatus {
	if vehicle.Car.CertOwner == user {
		if vehicle.Car.Owner == user {
			return StatusOwned
		}
		return StatusAwaitingNewOwner
	}
	if vehicle.Car.Owner == user {
		return StatusPendingCurrentUser
	}
	return StatusNoRelation
}

func WithStatus(vehicles []Vehicle, user string) []VehicleDetails {
	details := make([]VehicleDetails, len(vehicles))
	for i, vehicle := range vehicles {
		details[i] = VehicleDetails{
			Vehicle: vehicle,
			Status:  Status(vehicle, user),
		}
	}
	return details
}

func carNumber(key string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(key, carNumberPrefix))
	return n, err == nil
}

// CompareCarNumbers orders CAR<n> keys numerically. Keys without a number sort
// after numbered ones, lexically among themselves.
func CompareCarNumbers(a, b string) int {
	an, aok := carNumber(a)
	bn, bok := carNumber(b)
	switch {
	case aok && bok:
		return an - bn
	case aok:
		return -1
	case bok:
		return 1
	}
	return strings.Compare(a, b)
}

// NextCarNumber suggests the lowest unused car number.
func NextCarNumber(vehicles []Vehicle) string {
	used := make(map[int]struct{}, len(vehicles))
	for _, vehicle := range vehicles {
		if n, ok := carNumber(vehicle.Key); ok {
			used[n] = struct{}{}
		}
	}
	for n := firstFreeCarNumber; n <= lastCarNumber; n++ {
		if _, taken := used[n]; !taken {
			return carNumberPrefix + strconv.Itoa(n)
		}
	}
	return carNumberPrefix + strconv.Itoa(lastCarNumber)
}

type SortField string

const (
	SortCarNumber SortField = "carNumber"
	SortMake      SortField = "make"
	SortModel     SortField = "model"
	SortColour    SortField = "colour"
	SortOwner     SortField = "owner"
	SortStatus    SortField = "status"
)

func (f SortField) Valid() bool {
	switch f {
	case "", SortCarNumber, SortMake, SortModel, SortColour, SortOwner, SortStatus:
		return true
	}
	return false
}

// Query filters, sorts and pages a vehicle listing. Empty filters match all,
// an empty Sort orders by car number and PageSize 0 disables paging.
type Query struct {
	Status   []VehicleStatus
	Owner    []string
	Sort     SortField
	Desc     bool
	Page     int
	PageSize int
}

type Page struct {
	Items []VehicleDetails
	Total int
}

func (q Query) Apply(vehicles []VehicleDetails) Page {
	filtered := make([]VehicleDetails, 0, len(vehicles))
	for _, vehicle := range vehicles {
		if q.matches(vehicle) {
			filtered = append(filtered, vehicle)
		}
	}
	field := q.Sort
	if field == "" {
		field = SortCarNumber
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		c := compareBy(field, filtered[i], filtered[j])
		if q.Desc {
			return c > 0
		}
		return c < 0
	})
	total := len(filtered)
	if q.PageSize > 0 {
		start := q.Page * q.PageSize
		if start < 0 {
			start = 0
		}
		if start > total {
			start = total
		}
		end := start + q.PageSize
		if end > total {
			end = total
		}
		filtered = filtered[start:end]
	}
	return Page{Items: filtered, Total: total}
}

func (q Query) matches(vehicle VehicleDetails) bool {
	if len(q.Status) > 0 && !containsStatus(q.Status, vehicle.Status) {
		return false
	}
	if len(q.Owner) > 0 && !containsString(q.Owner, vehicle.Car.Owner) {
		return false
	}
	return true
}

func compareBy(field SortField, a, b VehicleDetails) int {
	switch field {
	case SortCarNumber:
		return CompareCarNumbers(a.Key, b.Key)
	case SortMake:
		return strings.Compare(a.Car.Make, b.Car.Make)
	case SortModel:
		return strings.Compare(a.Car.Model, b.Car.Model)
	case SortColour:
		return strings.Compare(a.Car.Color, b.Car.Color)
	case SortOwner:
		return strings.Compare(a.Car.Owner, b.Car.Owner)
	case SortStatus:
		return strings.Compare(string(a.Status), string(b.Status))
	}
	return 0
}

func containsStatus(values []VehicleStatus, v VehicleStatus) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
