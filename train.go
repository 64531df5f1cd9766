package railbook

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/yuhao-qian/railbook/bptree"
	"github.com/yuhao-qian/railbook/internal/datetime"
)

// maxStations caps the number of stops on one train.
const maxStations = 101

// trainInfo is the on-disk train record. Price is a prefix sum over
// segments; Arrive and Leave are minutes counted from midnight of the
// day the train departs its first station.
type trainInfo struct {
	Released bool
	Type     byte
	Seats    int
	Stations []string
	Price    []int
	Date0    datetime.Date
	Date1    datetime.Date
	Arrive   []int
	Leave    []int
}

const (
	trainStationsOff = 10
	trainPriceOff    = trainStationsOff + maxStations*maxStationLen
	trainDatesOff    = trainPriceOff + maxStations*4
	trainArriveOff   = trainDatesOff + 4
	trainLeaveOff    = trainArriveOff + maxStations*4
	trainInfoSize    = trainLeaveOff + maxStations*4
)

func marshalTrainInfo(t trainInfo) []byte {
	b := make([]byte, trainInfoSize)

	if t.Released {
		b[0] = 1
	}

	b[1] = t.Type
	binary.LittleEndian.PutUint32(b[2:], uint32(len(t.Stations)))
	binary.LittleEndian.PutUint32(b[6:], uint32(t.Seats))

	for i, sta := range t.Stations {
		putString(b[trainStationsOff+i*maxStationLen:trainStationsOff+(i+1)*maxStationLen], sta)
	}

	for i, p := range t.Price {
		binary.LittleEndian.PutUint32(b[trainPriceOff+i*4:], uint32(p))
	}

	b[trainDatesOff] = byte(t.Date0.Month)
	b[trainDatesOff+1] = byte(t.Date0.Day)
	b[trainDatesOff+2] = byte(t.Date1.Month)
	b[trainDatesOff+3] = byte(t.Date1.Day)

	for i := range t.Stations {
		binary.LittleEndian.PutUint32(b[trainArriveOff+i*4:], uint32(t.Arrive[i]))
		binary.LittleEndian.PutUint32(b[trainLeaveOff+i*4:], uint32(t.Leave[i]))
	}

	return b
}

func unmarshalTrainInfo(b []byte) trainInfo {
	size := int(binary.LittleEndian.Uint32(b[2:]))

	t := trainInfo{
		Released: b[0] != 0,
		Type:     b[1],
		Seats:    int(binary.LittleEndian.Uint32(b[6:])),
		Stations: make([]string, size),
		Price:    make([]int, size),
		Date0:    datetime.Date{Month: int(b[trainDatesOff]), Day: int(b[trainDatesOff+1])},
		Date1:    datetime.Date{Month: int(b[trainDatesOff+2]), Day: int(b[trainDatesOff+3])},
		Arrive:   make([]int, size),
		Leave:    make([]int, size),
	}

	for i := 0; i < size; i++ {
		t.Stations[i] = getString(b[trainStationsOff+i*maxStationLen : trainStationsOff+(i+1)*maxStationLen])
		t.Price[i] = int(int32(binary.LittleEndian.Uint32(b[trainPriceOff+i*4:])))
		t.Arrive[i] = int(int32(binary.LittleEndian.Uint32(b[trainArriveOff+i*4:])))
		t.Leave[i] = int(int32(binary.LittleEndian.Uint32(b[trainLeaveOff+i*4:])))
	}

	return t
}

// newTrainInfo assembles a record from the add_train arguments.
func newTrainInfo(staNum, seatNum int, stations, prices string, start datetime.Time,
	travelTimes, stopTimes, saleDate string, typ byte) (trainInfo, error) {

	t := trainInfo{Type: typ, Seats: seatNum}

	if staNum < 2 || staNum > maxStations {
		return t, errInvalidArgument
	}

	t.Stations = strings.Split(stations, "|")

	if len(t.Stations) != staNum {
		return t, errInvalidArgument
	}

	for _, sta := range t.Stations {
		if len(sta) == 0 || len(sta) > maxStationLen {
			return t, errInvalidArgument
		}
	}

	segPrices := strings.Split(prices, "|")

	if len(segPrices) != staNum-1 {
		return t, errInvalidArgument
	}

	t.Price = make([]int, staNum)

	for i, p := range segPrices {
		t.Price[i+1] = t.Price[i] + toInt(p)
	}

	dates := strings.Split(saleDate, "|")

	if len(dates) != 2 {
		return t, errInvalidArgument
	}

	var err error

	if t.Date0, err = datetime.ParseDate(dates[0]); err != nil {
		return t, errInvalidArgument
	}

	if t.Date1, err = datetime.ParseDate(dates[1]); err != nil {
		return t, errInvalidArgument
	}

	t.Arrive = make([]int, staNum)
	t.Leave = make([]int, staNum)
	t.Arrive[0] = int(start)
	t.Leave[0] = int(start)

	travels := strings.Split(travelTimes, "|")
	stops := strings.Split(stopTimes, "|")

	if len(travels) != staNum-1 {
		return t, errInvalidArgument
	}

	for i := 1; i < staNum; i++ {
		t.Arrive[i] = t.Leave[i-1] + toInt(travels[i-1])
		stop := 0

		// The last station has no stop time; a "_" placeholder or a
		// missing token both mean zero.
		if i-1 < len(stops) {
			stop = toInt(stops[i-1])
		}

		t.Leave[i] = t.Arrive[i] + stop
	}

	return t, nil
}

// invalidDate reports whether dt lies outside the sale window. The
// caller accounts for the departure-day offset of the boarding station.
func (t *trainInfo) invalidDate(dt datetime.Date) bool {
	return dt.Before(t.Date0) || t.Date1.Before(dt)
}

// totalPrice is the fare from station l to station r.
func (t *trainInfo) totalPrice(l, r int) int { return t.Price[r] - t.Price[l] }

// totalTime is the riding time in minutes from station l to station r.
func (t *trainInfo) totalTime(l, r int) int { return t.Arrive[r] - t.Leave[l] }

// stationIndex returns the index of a station on this train, or -1.
func (t *trainInfo) stationIndex(name string) int {
	for i, sta := range t.Stations {
		if sta == name {
			return i
		}
	}

	return -1
}

// seatInfo tracks the seats remaining on each inter-station segment of
// one train run; Seats[i] covers the ride from station i to i+1.
type seatInfo struct {
	Seats []int
}

const seatInfoSize = 4 + (maxStations-1)*4

func newSeatInfo(capacity, segments int) seatInfo {
	s := seatInfo{Seats: make([]int, segments)}

	for i := range s.Seats {
		s.Seats[i] = capacity
	}

	return s
}

func marshalSeatInfo(s seatInfo) []byte {
	b := make([]byte, seatInfoSize)
	binary.LittleEndian.PutUint32(b[0:], uint32(len(s.Seats)))

	for i, n := range s.Seats {
		binary.LittleEndian.PutUint32(b[4+i*4:], uint32(n))
	}

	return b
}

func unmarshalSeatInfo(b []byte) seatInfo {
	size := int(binary.LittleEndian.Uint32(b[0:]))
	s := seatInfo{Seats: make([]int, size)}

	for i := 0; i < size; i++ {
		s.Seats[i] = int(int32(binary.LittleEndian.Uint32(b[4+i*4:])))
	}

	return s
}

// min returns the minimum seat count over segments [l, r).
func (s *seatInfo) min(l, r int) int {
	ret := s.Seats[l]

	for i := l + 1; i < r; i++ {
		if s.Seats[i] < ret {
			ret = s.Seats[i]
		}
	}

	return ret
}

// add adds x to every segment in [l, r).
func (s *seatInfo) add(l, r, x int) {
	for i := l; i < r; i++ {
		s.Seats[i] += x
	}
}

// passby is one row of the station index: the named train stops at the
// key's station as its Idx-th stop. Handle gives O(1) access to the
// train record.
type passby struct {
	Train  string
	Handle int32
	Idx    int
}

const passbySize = maxTrainLen + 8

func marshalPassby(p passby) []byte {
	b := make([]byte, passbySize)
	putString(b[0:maxTrainLen], p.Train)
	binary.LittleEndian.PutUint32(b[maxTrainLen:], uint32(p.Handle))
	binary.LittleEndian.PutUint32(b[maxTrainLen+4:], uint32(p.Idx))
	return b
}

func unmarshalPassby(b []byte) passby {
	return passby{
		Train:  getString(b[0:maxTrainLen]),
		Handle: int32(binary.LittleEndian.Uint32(b[maxTrainLen:])),
		Idx:    int(int32(binary.LittleEndian.Uint32(b[maxTrainLen+4:]))),
	}
}

func (s *System) addTrain(train string, staNum, seatNum int, stations, prices string,
	start datetime.Time, travelTimes, stopTimes, saleDate string, typ byte) (string, error) {

	tid := hashName(train)
	record, err := newTrainInfo(staNum, seatNum, stations, prices, start, travelTimes, stopTimes, saleDate, typ)

	if err != nil {
		return "", err
	}

	if _, err := s.trains.Insert(idKey(tid), marshalTrainInfo(record)); err != nil {
		if errors.Is(err, bptree.ErrExists) {
			return "", errAlreadyExists
		}

		return "", err
	}

	return "0", nil
}

func (s *System) deleteTrain(train string) (string, error) {
	tid := hashName(train)
	record, err := s.trains.Get(idKey(tid))

	if err != nil {
		return "", errNotFound
	}

	if unmarshalTrainInfo(record).Released {
		return "", errAlreadyReleased
	}

	if err := s.trains.Erase(idKey(tid)); err != nil {
		return "", err
	}

	return "0", nil
}

// releaseTrain freezes the schedule and materializes the seat inventory
// for every sale day plus one passby row per stop.
func (s *System) releaseTrain(train string) (string, error) {
	tid := hashName(train)
	handle, ok := s.trains.FindHandle(idKey(tid))

	if !ok {
		return "", errNotFound
	}

	tr := unmarshalTrainInfo(s.trains.GetByHandle(handle))

	if tr.Released {
		return "", errAlreadyReleased
	}

	tr.Released = true
	s.trains.SetByHandle(handle, marshalTrainInfo(tr))

	seatRow := marshalSeatInfo(newSeatInfo(tr.Seats, len(tr.Stations)-1))

	for day := 0; day <= tr.Date1.DaysSince(tr.Date0); day++ {
		if _, err := s.seats.Insert(trainDayKey(tid, day), seatRow); err != nil {
			return "", err
		}
	}

	for i, sta := range tr.Stations {
		row := marshalPassby(passby{Train: train, Handle: handle, Idx: i})

		if _, err := s.passby.Insert(pairKey(hashName(sta), tid), row); err != nil {
			return "", err
		}
	}

	return "0", nil
}

func (s *System) queryTrain(train string, date datetime.Date) (string, error) {
	tid := hashName(train)
	record, err := s.trains.Get(idKey(tid))

	if err != nil {
		return "", errNotFound
	}

	tr := unmarshalTrainInfo(record)

	if tr.invalidDate(date) {
		return "", errInvalidArgument
	}

	var seat seatInfo

	if tr.Released {
		row, err := s.seats.Get(trainDayKey(tid, date.DaysSince(tr.Date0)))

		if err != nil {
			return "", err
		}

		seat = unmarshalSeatInfo(row)
	}

	var out strings.Builder
	fmt.Fprintf(&out, "%s %c", train, tr.Type)

	for i := range tr.Stations {
		out.WriteByte('\n')
		out.WriteString(tr.Stations[i])
		out.WriteByte(' ')

		if i == 0 {
			out.WriteString("xx-xx xx:xx")
		} else {
			out.WriteString(datetime.At(date, datetime.Time(tr.Arrive[i])).String())
		}

		out.WriteString(" -> ")

		if i == len(tr.Stations)-1 {
			out.WriteString("xx-xx xx:xx")
		} else {
			out.WriteString(datetime.At(date, datetime.Time(tr.Leave[i])).String())
		}

		fmt.Fprintf(&out, " %d ", tr.Price[i])

		if i == len(tr.Stations)-1 {
			out.WriteByte('x')
			break
		}

		if tr.Released {
			fmt.Fprintf(&out, "%d", seat.Seats[i])
		} else {
			fmt.Fprintf(&out, "%d", tr.Seats)
		}
	}

	return out.String(), nil
}
