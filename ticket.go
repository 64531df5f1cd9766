package railbook

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/yuhao-qian/railbook/internal/datetime"
	"github.com/yuhao-qian/railbook/internal/lhmap"
)

// Order status values; the on-disk encoding is the enum ordinal.
const (
	statusSuccess = iota
	statusPending
	statusRefunded
)

var statusText = [...]string{"[success]", "[pending]", "[refunded]"}

// ticket is one purchasable passage, the unit of query_ticket and
// query_transfer results.
type ticket struct {
	Train  string
	From   string
	To     string
	Leave  datetime.DateTime
	Arrive datetime.DateTime
	Time   int
	Price  int
	Seat   int
}

func (t ticket) String() string {
	return fmt.Sprintf("%s %s %s -> %s %s %d %d",
		t.Train, t.From, t.Leave, t.To, t.Arrive, t.Price, t.Seat)
}

func lessTicketTime(a, b ticket) bool {
	return a.Time < b.Time || a.Time == b.Time && a.Train < b.Train
}

func lessTicketCost(a, b ticket) bool {
	return a.Price < b.Price || a.Price == b.Price && a.Train < b.Train
}

// transfer is a two-leg journey through a mid station.
type transfer struct {
	First  ticket
	Second ticket
	Time   int
	Cost   int
}

func newTransfer(first, second ticket) transfer {
	return transfer{
		First:  first,
		Second: second,
		Time:   second.Arrive.Sub(first.Leave),
		Cost:   first.Price + second.Price,
	}
}

func lessTransferTime(a, b transfer) bool {
	if a.Time != b.Time {
		return a.Time < b.Time
	}

	if a.Cost != b.Cost {
		return a.Cost < b.Cost
	}

	if a.First.Train != b.First.Train {
		return a.First.Train < b.First.Train
	}

	return a.Second.Train < b.Second.Train
}

func lessTransferCost(a, b transfer) bool {
	if a.Cost != b.Cost {
		return a.Cost < b.Cost
	}

	if a.Time != b.Time {
		return a.Time < b.Time
	}

	if a.First.Train != b.First.Train {
		return a.First.Train < b.First.Train
	}

	return a.Second.Train < b.Second.Train
}

// order is the on-disk order record. The pending fields identify the
// run the order rides and, for pending orders, the queue key.
type order struct {
	Status    byte
	Train     string
	From      string
	To        string
	Leave     datetime.DateTime
	Arrive    datetime.DateTime
	Price     int
	Num       int
	L         int
	R         int
	PendTrain ID
	PendDay   int
	PendTime  uint32
}

const (
	orderLeaveOff  = 1 + maxTrainLen + 2*maxStationLen
	orderIntsOff   = orderLeaveOff + 12
	orderPendOff   = orderIntsOff + 16
	orderValueSize = orderPendOff + 16
)

func putDateTime(b []byte, dt datetime.DateTime) {
	b[0] = byte(dt.Date.Month)
	b[1] = byte(dt.Date.Day)
	binary.LittleEndian.PutUint32(b[2:], uint32(dt.Time))
}

func getDateTime(b []byte) datetime.DateTime {
	return datetime.DateTime{
		Date: datetime.Date{Month: int(b[0]), Day: int(b[1])},
		Time: datetime.Time(int32(binary.LittleEndian.Uint32(b[2:]))),
	}
}

func marshalOrder(o order) []byte {
	b := make([]byte, orderValueSize)
	b[0] = o.Status
	putString(b[1:1+maxTrainLen], o.Train)
	putString(b[1+maxTrainLen:1+maxTrainLen+maxStationLen], o.From)
	putString(b[1+maxTrainLen+maxStationLen:orderLeaveOff], o.To)
	putDateTime(b[orderLeaveOff:], o.Leave)
	putDateTime(b[orderLeaveOff+6:], o.Arrive)
	binary.LittleEndian.PutUint32(b[orderIntsOff:], uint32(o.Price))
	binary.LittleEndian.PutUint32(b[orderIntsOff+4:], uint32(o.Num))
	binary.LittleEndian.PutUint32(b[orderIntsOff+8:], uint32(o.L))
	binary.LittleEndian.PutUint32(b[orderIntsOff+12:], uint32(o.R))
	binary.LittleEndian.PutUint64(b[orderPendOff:], uint64(o.PendTrain))
	binary.LittleEndian.PutUint32(b[orderPendOff+8:], uint32(o.PendDay))
	binary.LittleEndian.PutUint32(b[orderPendOff+12:], o.PendTime)
	return b
}

func unmarshalOrder(b []byte) order {
	return order{
		Status:    b[0],
		Train:     getString(b[1 : 1+maxTrainLen]),
		From:      getString(b[1+maxTrainLen : 1+maxTrainLen+maxStationLen]),
		To:        getString(b[1+maxTrainLen+maxStationLen : orderLeaveOff]),
		Leave:     getDateTime(b[orderLeaveOff:]),
		Arrive:    getDateTime(b[orderLeaveOff+6:]),
		Price:     int(int32(binary.LittleEndian.Uint32(b[orderIntsOff:]))),
		Num:       int(int32(binary.LittleEndian.Uint32(b[orderIntsOff+4:]))),
		L:         int(int32(binary.LittleEndian.Uint32(b[orderIntsOff+8:]))),
		R:         int(int32(binary.LittleEndian.Uint32(b[orderIntsOff+12:]))),
		PendTrain: ID(binary.LittleEndian.Uint64(b[orderPendOff:])),
		PendDay:   int(int32(binary.LittleEndian.Uint32(b[orderPendOff+8:]))),
		PendTime:  binary.LittleEndian.Uint32(b[orderPendOff+12:]),
	}
}

func (o order) String() string {
	return fmt.Sprintf("%s %s %s %s -> %s %s %d %d",
		statusText[o.Status], o.Train, o.From, o.Leave, o.To, o.Arrive, o.Price, o.Num)
}

// pendingRow is one queued purchase, keyed by ((train, day), op time).
// Handle points back at the order record for O(1) promotion.
type pendingRow struct {
	Handle int32
	L      int
	R      int
	Num    int
}

const pendingRowSize = 16

func marshalPendingRow(p pendingRow) []byte {
	b := make([]byte, pendingRowSize)
	binary.LittleEndian.PutUint32(b[0:], uint32(p.Handle))
	binary.LittleEndian.PutUint32(b[4:], uint32(p.L))
	binary.LittleEndian.PutUint32(b[8:], uint32(p.R))
	binary.LittleEndian.PutUint32(b[12:], uint32(p.Num))
	return b
}

func unmarshalPendingRow(b []byte) pendingRow {
	return pendingRow{
		Handle: int32(binary.LittleEndian.Uint32(b[0:])),
		L:      int(int32(binary.LittleEndian.Uint32(b[4:]))),
		R:      int(int32(binary.LittleEndian.Uint32(b[8:]))),
		Num:    int(int32(binary.LittleEndian.Uint32(b[12:]))),
	}
}

func (s *System) queryTicket(from, to string, date datetime.Date, byCost bool) (string, error) {
	sid, sid2 := hashName(from), hashName(to)
	it := s.passby.Search(pairKey(sid, 0), pairKey(sid, math.MaxUint64))
	it2 := s.passby.Search(pairKey(sid2, 0), pairKey(sid2, math.MaxUint64))
	var results []ticket

	// Both ranges sort by train ID, so one synchronized walk finds
	// every train serving the two stations.
	for ; !it.IsAtEnd(); it.Advance() {
		tid := trainIDOfPairKey(it.ReadKey())

		for !it2.IsAtEnd() && trainIDOfPairKey(it2.ReadKey()) < tid {
			it2.Advance()
		}

		if it2.IsAtEnd() {
			break
		}

		if trainIDOfPairKey(it2.ReadKey()) != tid {
			continue
		}

		psb, psb2 := unmarshalPassby(it.ReadValue()), unmarshalPassby(it2.ReadValue())
		l, r := psb.Idx, psb2.Idx

		if l >= r {
			continue
		}

		tr := unmarshalTrainInfo(s.trains.GetByHandle(psb.Handle))

		// The sale window is stated for the first station; shift the
		// requested date back to the run's departure day.
		startDate := date.SubDays(tr.Leave[l] / datetime.MinutesPerDay)

		if tr.invalidDate(startDate) {
			continue
		}

		seat := unmarshalSeatInfo(s.seats.GetDefault(trainDayKey(tid, startDate.DaysSince(tr.Date0))))

		results = append(results, ticket{
			Train:  psb.Train,
			From:   from,
			To:     to,
			Leave:  datetime.At(startDate, datetime.Time(tr.Leave[l])),
			Arrive: datetime.At(startDate, datetime.Time(tr.Arrive[r])),
			Time:   tr.totalTime(l, r),
			Price:  tr.totalPrice(l, r),
			Seat:   seat.min(l, r),
		})
	}

	less := lessTicketTime

	if byCost {
		less = lessTicketCost
	}

	sort.Slice(results, func(i, j int) bool { return less(results[i], results[j]) })

	var out strings.Builder
	fmt.Fprintf(&out, "%d", len(results))

	for _, tk := range results {
		out.WriteByte('\n')
		out.WriteString(tk.String())
	}

	return out.String(), nil
}

func (s *System) queryTransfer(from, to string, date datetime.Date, byCost bool) (string, error) {
	sid, sid2 := hashName(from), hashName(to)

	var arrivals []passby

	for it := s.passby.Search(pairKey(sid2, 0), pairKey(sid2, math.MaxUint64)); !it.IsAtEnd(); it.Advance() {
		arrivals = append(arrivals, unmarshalPassby(it.ReadValue()))
	}

	less := lessTransferTime

	if byCost {
		less = lessTransferCost
	}

	midIndex := lhmap.New[string, int](xxhashString)
	var best transfer
	found := false

	for it := s.passby.Search(pairKey(sid, 0), pairKey(sid, math.MaxUint64)); !it.IsAtEnd(); it.Advance() {
		psb := unmarshalPassby(it.ReadValue())
		tr := unmarshalTrainInfo(s.trains.GetByHandle(psb.Handle))
		l := psb.Idx
		startDate := date.SubDays(tr.Leave[l] / datetime.MinutesPerDay)

		if tr.invalidDate(startDate) {
			continue
		}

		tid := trainIDOfPairKey(it.ReadKey())
		leave := datetime.At(startDate, datetime.Time(tr.Leave[l]))

		midIndex.Clear()

		for r := l + 1; r < len(tr.Stations); r++ {
			midIndex.Insert(tr.Stations[r], r)
		}

		for _, psb2 := range arrivals {
			r2 := psb2.Idx
			tid2 := hashName(psb2.Train)

			if tid2 == tid {
				continue
			}

			tr2 := unmarshalTrainInfo(s.trains.GetByHandle(psb2.Handle))

			for l2 := r2 - 1; l2 >= 0; l2-- {
				mid := tr2.Stations[l2]
				e := midIndex.Find(mid)

				if e == nil {
					continue
				}

				r := e.Value

				if l >= r {
					continue
				}

				arrive := datetime.At(startDate, datetime.Time(tr.Arrive[r]))

				// The connection fails when even the last run of the
				// second train has already left the mid station.
				if datetime.At(tr2.Date1, datetime.Time(tr2.Leave[l2])).Before(arrive) {
					continue
				}

				// Take the earliest run of the second train leaving at
				// or after the arrival.
				earliest := datetime.At(tr2.Date0, datetime.Time(tr2.Leave[l2]))
				leave2 := earliest
				startDate2 := tr2.Date0

				if leave2.Before(arrive) {
					day := arrive.Date

					if leave2.Time < arrive.Time {
						day = day.AddDays(1)
					}

					startDate2 = startDate2.AddDays(day.DaysSince(earliest.Date))
					leave2.Date = day
				}

				arrive2 := datetime.At(startDate2, datetime.Time(tr2.Arrive[r2]))

				candidate := newTransfer(
					ticket{Train: psb.Train, From: from, To: mid, Leave: leave,
						Arrive: arrive, Price: tr.totalPrice(l, r)},
					ticket{Train: psb2.Train, From: mid, To: to, Leave: leave2,
						Arrive: arrive2, Price: tr2.totalPrice(l2, r2)},
				)

				if !found || less(candidate, best) {
					// Seat rows are fetched only for a new best, the
					// hot-path optimization.
					seat := unmarshalSeatInfo(s.seats.GetDefault(
						trainDayKey(tid, startDate.DaysSince(tr.Date0))))
					seat2 := unmarshalSeatInfo(s.seats.GetDefault(
						trainDayKey(tid2, startDate2.DaysSince(tr2.Date0))))
					candidate.First.Seat = seat.min(l, r)
					candidate.Second.Seat = seat2.min(l2, r2)
					best = candidate
					found = true
				}
			}
		}
	}

	if !found {
		return "0", nil
	}

	return best.First.String() + "\n" + best.Second.String(), nil
}

func (s *System) buyTicket(user, train string, date datetime.Date, num int,
	from, to string, queueAllowed bool, opTime uint32) (string, error) {

	uid, tid := hashName(user), hashName(train)

	if _, ok := s.sessions.privilege(uid); !ok {
		return "", errNotLoggedIn
	}

	record, err := s.trains.Get(idKey(tid))

	if err != nil {
		return "", errNotFound
	}

	tr := unmarshalTrainInfo(record)

	if !tr.Released {
		return "", errNotReleased
	}

	if num > tr.Seats {
		return "", errCapacityExceeded
	}

	l, r := tr.stationIndex(from), tr.stationIndex(to)

	if l == -1 || r == -1 || l >= r {
		return "", errInvalidArgument
	}

	startDate := date.SubDays(tr.Leave[l] / datetime.MinutesPerDay)

	if tr.invalidDate(startDate) {
		return "", errInvalidArgument
	}

	day := startDate.DaysSince(tr.Date0)
	seatKey := trainDayKey(tid, day)
	seatRecord, err := s.seats.Get(seatKey)

	if err != nil {
		return "", err
	}

	seat := unmarshalSeatInfo(seatRecord)
	avail := seat.min(l, r)
	price := tr.totalPrice(l, r)

	if avail < num && !queueAllowed {
		return "", errSoldOut
	}

	status := byte(statusSuccess)

	if avail < num {
		status = statusPending
	}

	ord := order{
		Status:    status,
		Train:     train,
		From:      from,
		To:        to,
		Leave:     datetime.At(startDate, datetime.Time(tr.Leave[l])),
		Arrive:    datetime.At(startDate, datetime.Time(tr.Arrive[r])),
		Price:     price,
		Num:       num,
		L:         l,
		R:         r,
		PendTrain: tid,
		PendDay:   day,
		PendTime:  opTime,
	}

	count := orderCount(s.ordNum.GetDefault(idKey(uid)))

	if count > 0 {
		err = s.ordNum.Set(idKey(uid), marshalOrderCount(count+1))
	} else {
		_, err = s.ordNum.Insert(idKey(uid), marshalOrderCount(count+1))
	}

	if err != nil {
		return "", err
	}

	handle, err := s.orders.Insert(orderKey(uid, count), marshalOrder(ord))

	if err != nil {
		return "", err
	}

	if status == statusSuccess {
		seat.add(l, r, -num)

		if err := s.seats.Set(seatKey, marshalSeatInfo(seat)); err != nil {
			return "", err
		}

		return fmt.Sprintf("%d", int64(price)*int64(num)), nil
	}

	row := pendingRow{Handle: handle, L: l, R: r, Num: num}

	if _, err := s.pending.Insert(pendingKey(tid, day, opTime), marshalPendingRow(row)); err != nil {
		return "", err
	}

	return "queue", nil
}

func (s *System) queryOrder(user string) (string, error) {
	uid := hashName(user)

	if _, ok := s.sessions.privilege(uid); !ok {
		return "", errNotLoggedIn
	}

	var records []order

	for it := s.orders.Search(orderKey(uid, 0), orderKey(uid, math.MaxUint32)); !it.IsAtEnd(); it.Advance() {
		records = append(records, unmarshalOrder(it.ReadValue()))
	}

	var out strings.Builder
	fmt.Fprintf(&out, "%d", len(records))

	for i := len(records) - 1; i >= 0; i-- {
		out.WriteByte('\n')
		out.WriteString(records[i].String())
	}

	return out.String(), nil
}

// refundTicket cancels the user's k-th most recent order. Refunding a
// successful order returns its seats and promotes queued orders on the
// same run in submission order.
func (s *System) refundTicket(user string, k int) (string, error) {
	uid := hashName(user)

	if _, ok := s.sessions.privilege(uid); !ok {
		return "", errNotLoggedIn
	}

	count := orderCount(s.ordNum.GetDefault(idKey(uid)))
	ordID := int(count) - k

	if ordID < 0 {
		return "", errNotFound
	}

	key := orderKey(uid, uint32(ordID))
	record, err := s.orders.Get(key)

	if err != nil {
		return "", errNotFound
	}

	ord := unmarshalOrder(record)

	if ord.Status == statusRefunded {
		return "", errAlreadyRefunded
	}

	if ord.Status == statusSuccess {
		if err := s.releaseSeats(ord); err != nil {
			return "", err
		}
	} else {
		if err := s.pending.Erase(pendingKey(ord.PendTrain, ord.PendDay, ord.PendTime)); err != nil {
			return "", err
		}
	}

	ord.Status = statusRefunded

	if err := s.orders.Set(key, marshalOrder(ord)); err != nil {
		return "", err
	}

	return "0", nil
}

// releaseSeats returns a successful order's seats to its run and walks
// that run's pending queue in op-time order, promoting every entry that
// now fits. Entries that do not fit stay queued in place, and later
// entries that do fit are promoted past them.
func (s *System) releaseSeats(ord order) error {
	seatKey := trainDayKey(ord.PendTrain, ord.PendDay)
	seatRecord, err := s.seats.Get(seatKey)

	if err != nil {
		return err
	}

	seat := unmarshalSeatInfo(seatRecord)
	seat.add(ord.L, ord.R, ord.Num)

	type queued struct {
		key []byte
		row pendingRow
	}

	var queue []queued
	lo := pendingKey(ord.PendTrain, ord.PendDay, 0)
	hi := pendingKey(ord.PendTrain, ord.PendDay, math.MaxUint32)

	for it := s.pending.Search(lo, hi); !it.IsAtEnd(); it.Advance() {
		queue = append(queue, queued{
			key: append([]byte(nil), it.ReadKey()...),
			row: unmarshalPendingRow(it.ReadValue()),
		})
	}

	for _, q := range queue {
		if seat.min(q.row.L, q.row.R) < q.row.Num {
			continue
		}

		seat.add(q.row.L, q.row.R, -q.row.Num)
		promoted := unmarshalOrder(s.orders.GetByHandle(q.row.Handle))
		promoted.Status = statusSuccess
		s.orders.SetByHandle(q.row.Handle, marshalOrder(promoted))

		if err := s.pending.Erase(q.key); err != nil {
			return err
		}
	}

	return s.seats.Set(seatKey, marshalSeatInfo(seat))
}

func marshalOrderCount(n uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, n)
	return b
}

func orderCount(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}
