package core

// Request is a tagged union of every command the dispatcher accepts,
// realized as a struct with one non-nil field rather than a string-keyed
// dispatch table. This is the REDESIGN FLAG's "tagged variant of typed
// request/response kinds". The wire package decodes a Request without
// counting its non-nil fields: Dispatch answers a Request with no field
// set with InvalidArgument, and for a Request with several fields set it
// acts on the first one in its switch order and ignores the rest.
type Request struct {
	Echo              *EchoRequest
	Shutdown          *ShutdownRequest
	TOC               *TOCRequest
	MemoryConsumption *MemoryConsumptionRequest
	GetFields         *GetFieldsRequest
	CreateSeries      *CreateSeriesRequest
	DeleteSeries      *DeleteSeriesRequest
	Defragment        *DefragmentRequest
	MoveSeries        *MoveSeriesRequest
	RenameFields      *RenameFieldsRequest
	Get               *GetRequest
	GetRange          *GetRangeRequest
	GetAll            *GetAllRequest
	Insert            *InsertRequest
}

type EchoRequest struct{ Msg string }
type ShutdownRequest struct{}
type TOCRequest struct{ Prefix Path }
type MemoryConsumptionRequest struct{}
type GetFieldsRequest struct{ Path Path }
type CreateSeriesRequest struct {
	Path   Path
	Fields []string
}
type DeleteSeriesRequest struct{ Path Path }
type DefragmentRequest struct{ Path Path }
type MoveSeriesRequest struct{ OldPath, NewPath Path }
type RenameFieldsRequest struct {
	Path   Path
	Fields []string
}
type GetRequest struct {
	Path   Path
	T      int64
	Fields []string
	When   WhenMode
}
type GetRangeRequest struct {
	Path       Path
	Start, End int64
	Fields     []string
}
type GetAllRequest struct {
	Path   Path
	Fields []string
}
type InsertRequest struct {
	Path     Path
	T        int64
	X        []float64
	Conflict ConflictMode
}

// Response mirrors Request's tagged-union shape. Exactly one of Err or
// one result field is set.
type Response struct {
	Err *ErrorPayload

	Echo              *EchoResponse
	Ack               *AckResponse
	TOC               *TOCResponse
	MemoryConsumption *MemoryConsumptionResponse
	Fields            *FieldsResponse
	Value             *GetResponse
	Range             *RangeResponse
}

type ErrorPayload struct {
	Kind ErrorKind
	Msg  string
}

type EchoResponse struct{ Msg string }
type AckResponse struct{}
type TOCResponse struct{ Root *TOCNode }
type MemoryConsumptionResponse struct{ Bytes int }
type FieldsResponse struct{ Fields []string }
type GetResponse struct {
	T int64
	X []float64
}
type RangeResponse struct {
	T []int64
	X [][]float64
}

func errResponse(err error) Response {
	if e, ok := err.(*Error); ok {
		return Response{Err: &ErrorPayload{Kind: e.Kind, Msg: e.Msg}}
	}
	return Response{Err: &ErrorPayload{Kind: IOFailure, Msg: err.Error()}}
}

// Dispatch routes one decoded Request to the Database and shapes its
// result as a Response, converting any error into the Err field so the
// wire layer never has to special-case Go error values.
func Dispatch(db *Database, req Request) Response {
	switch {
	case req.Echo != nil:
		return Response{Echo: &EchoResponse{Msg: req.Echo.Msg}}

	case req.Shutdown != nil:
		if err := db.Shutdown(); err != nil {
			return errResponse(err)
		}
		return Response{Ack: &AckResponse{}}

	case req.TOC != nil:
		return Response{TOC: &TOCResponse{Root: db.TOC(req.TOC.Prefix)}}

	case req.MemoryConsumption != nil:
		return Response{MemoryConsumption: &MemoryConsumptionResponse{Bytes: db.MemoryConsumption()}}

	case req.GetFields != nil:
		fields, err := db.GetFields(req.GetFields.Path)
		if err != nil {
			return errResponse(err)
		}
		return Response{Fields: &FieldsResponse{Fields: fields}}

	case req.CreateSeries != nil:
		if err := db.NewSeries(req.CreateSeries.Path, req.CreateSeries.Fields); err != nil {
			return errResponse(err)
		}
		return Response{Ack: &AckResponse{}}

	case req.DeleteSeries != nil:
		if err := db.DeleteSeries(req.DeleteSeries.Path); err != nil {
			return errResponse(err)
		}
		return Response{Ack: &AckResponse{}}

	case req.Defragment != nil:
		if err := db.DefragmentSeries(req.Defragment.Path); err != nil {
			return errResponse(err)
		}
		return Response{Ack: &AckResponse{}}

	case req.MoveSeries != nil:
		if err := db.MoveSeries(req.MoveSeries.OldPath, req.MoveSeries.NewPath); err != nil {
			return errResponse(err)
		}
		return Response{Ack: &AckResponse{}}

	case req.RenameFields != nil:
		if err := db.RenameFields(req.RenameFields.Path, req.RenameFields.Fields); err != nil {
			return errResponse(err)
		}
		return Response{Ack: &AckResponse{}}

	case req.Get != nil:
		t, x, err := db.Get(req.Get.Path, req.Get.T, req.Get.Fields, req.Get.When)
		if err != nil {
			return errResponse(err)
		}
		return Response{Value: &GetResponse{T: t, X: x}}

	case req.GetRange != nil:
		t, x, err := db.GetRange(req.GetRange.Path, req.GetRange.Start, req.GetRange.End, req.GetRange.Fields)
		if err != nil {
			return errResponse(err)
		}
		return Response{Range: &RangeResponse{T: t, X: x}}

	case req.GetAll != nil:
		t, x, err := db.GetAll(req.GetAll.Path, req.GetAll.Fields)
		if err != nil {
			return errResponse(err)
		}
		return Response{Range: &RangeResponse{T: t, X: x}}

	case req.Insert != nil:
		if err := db.Insert(req.Insert.Path, req.Insert.T, req.Insert.X, req.Insert.Conflict); err != nil {
			return errResponse(err)
		}
		return Response{Ack: &AckResponse{}}

	default:
		return errResponse(newErr(InvalidArgument, "empty request"))
	}
}
